package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/data/memory"
)

func fixture() *memory.Provider {
	p := memory.New()
	p.PriceData["AAPL"] = data.PriceSeries{
		{Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), Close: 100},
	}
	return p
}

func TestPassThrough(t *testing.T) {
	p := New(fixture(), 100, 10)

	series, err := p.Prices(context.Background(), "AAPL",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("len = %d, want 1", len(series))
	}
}

func TestThrottleDelaysBeyondBurst(t *testing.T) {
	p := New(fixture(), 50, 1)
	ctx := context.Background()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)

	began := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Prices(ctx, "AAPL", start, end); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// burst 1 at 50/s: the second and third calls wait ~20ms each
	if elapsed := time.Since(began); elapsed < 30*time.Millisecond {
		t.Fatalf("3 calls took %v, want at least 30ms of throttling", elapsed)
	}
}

func TestCancelledContextAborts(t *testing.T) {
	p := New(fixture(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)

	if _, err := p.Prices(ctx, "AAPL", start, end); err != nil {
		t.Fatalf("first call: %v", err)
	}
	cancel()
	if _, err := p.Prices(ctx, "AAPL", start, end); err == nil {
		t.Fatal("want error after cancel")
	}
}
