package data

import (
	"math"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCloseOnOrBefore(t *testing.T) {
	s := PriceSeries{
		{Date: day(2023, 1, 3), Close: 100},
		{Date: day(2023, 1, 4), Close: 101},
		{Date: day(2023, 1, 6), Close: 99},
	}

	cases := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"exact date", day(2023, 1, 4), 101},
		{"gap rolls back", day(2023, 1, 5), 101},
		{"after series end", day(2023, 2, 1), 99},
		{"before series start", day(2022, 12, 30), math.NaN()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.CloseOnOrBefore(tc.at)
			if math.IsNaN(tc.want) {
				if !IsMissing(got) {
					t.Errorf("got %v, want missing", got)
				}
				return
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	s := PriceSeries{
		{Date: day(2023, 1, 3), Close: 100},
		{Date: day(2023, 1, 4), Close: 101},
		{Date: day(2023, 1, 6), Close: 99},
	}
	got := s.Truncate(day(2023, 1, 4))
	if len(got) != 2 || got.Last().Close != 101 {
		t.Errorf("truncate kept %d rows, last %v", len(got), got[len(got)-1])
	}
	if len(s.Truncate(day(2022, 1, 1))) != 0 {
		t.Error("truncate before start should be empty")
	}
}

func TestReturns(t *testing.T) {
	s := PriceSeries{
		{Date: day(2023, 1, 3), Close: 100},
		{Date: day(2023, 1, 4), Close: 110},
		{Date: day(2023, 1, 5), Close: 99},
	}
	rets := s.Returns()
	if len(rets) != 2 {
		t.Fatalf("got %d returns, want 2", len(rets))
	}
	if math.Abs(rets[0]-0.10) > 1e-12 {
		t.Errorf("first return = %v, want 0.10", rets[0])
	}
	if math.Abs(rets[1]-(-0.10)) > 1e-12 {
		t.Errorf("second return = %v, want -0.10", rets[1])
	}
	if s[:1].Returns() != nil {
		t.Error("single observation should yield no returns")
	}
}

func TestEmptySnapshotAllMissing(t *testing.T) {
	snap := EmptySnapshot()
	for name, v := range map[string]float64{
		"fcf":      snap.FreeCashFlowTTM,
		"ebit":     snap.EBITTTM,
		"revenue":  snap.RevenueTTM,
		"gp":       snap.GrossProfitTTM,
		"assets":   snap.TotalAssets,
		"cur_liab": snap.CurrentLiabilities,
		"shares":   snap.SharesOutstanding,
	} {
		if !IsMissing(v) {
			t.Errorf("%s should be missing, got %v", name, v)
		}
	}
}

func TestVIXComplete(t *testing.T) {
	full := VIXStructure{VIX9D: 14, VIX30D: 16, VIX3M: 18}
	if !full.Complete() {
		t.Error("full structure should be complete")
	}
	partial := VIXStructure{VIX9D: 14, VIX30D: Missing(), VIX3M: 18}
	if partial.Complete() {
		t.Error("partial structure should not be complete")
	}
}
