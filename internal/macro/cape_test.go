package macro

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data/memory"
)

func TestScalarFor(t *testing.T) {
	cfg := config.Default().Macro

	cases := []struct {
		name string
		cape float64
		want float64
	}{
		{"deep value", 10, 1.20},
		{"at low threshold", 15, 1.20},
		{"midpoint", 25, 0.95},
		{"at high threshold", 35, 0.70},
		{"bubble", 45, 0.70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScalarFor(tc.cape, cfg); math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("ScalarFor(%v) = %v, want %v", tc.cape, got, tc.want)
			}
		})
	}
}

func TestScalarMissingCAPEIsNeutral(t *testing.T) {
	provider := memory.New() // no CAPE history at all
	a := New(provider, config.Default().Macro)

	got := a.Scalar(context.Background(), time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))
	if got != 1.0 {
		t.Errorf("missing CAPE scalar = %v, want 1.0", got)
	}
}

func TestScalarReadsProvider(t *testing.T) {
	provider := memory.New()
	provider.CAPEHistory = []memory.CAPERecord{
		{ObservedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Value: 30},
	}
	a := New(provider, config.Default().Macro)

	got := a.Scalar(context.Background(), time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))
	want := ScalarFor(30, config.Default().Macro)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("scalar = %v, want %v", got, want)
	}
}
