package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/sawpanic/equityrun/internal/errs"
)

// Allocation is the integer-share rendering of a continuous portfolio.
type Allocation struct {
	Shares   map[string]int64 `json:"shares"`
	Invested float64          `json:"invested"`
	Leftover float64          `json:"leftover"`
}

// Allocate converts continuous weights into integer share counts for a cash
// budget by the largest-remainder method. Short weights allocate negative
// share counts against the same cash pool. Continuous weights are not
// modified.
func Allocate(w Weights, prices map[string]float64, budget float64) (Allocation, error) {
	if budget <= 0 {
		return Allocation{}, fmt.Errorf("allocate: budget %.2f: %w", budget, errs.ErrConfigurationInvalid)
	}

	type lot struct {
		ticker    string
		ideal     float64
		floor     int64
		remainder float64
		price     float64
		sign      float64
	}

	lots := make([]lot, 0, len(w.ByTicker))
	for _, t := range w.Tickers() {
		weight := w.ByTicker[t]
		if weight == 0 {
			continue
		}
		price, ok := prices[t]
		if !ok || price <= 0 {
			return Allocation{}, fmt.Errorf("allocate: no price for %s: %w", t, errs.ErrDataUnavailable)
		}
		ideal := math.Abs(weight) * budget / price
		floor := int64(math.Floor(ideal))
		lots = append(lots, lot{
			ticker:    t,
			ideal:     ideal,
			floor:     floor,
			remainder: ideal - float64(floor),
			price:     price,
			sign:      sign(weight),
		})
	}

	var spent float64
	for _, l := range lots {
		spent += float64(l.floor) * l.price
	}

	// hand out extra shares in remainder order, repeating the pass until no
	// lot can absorb another whole share; the leftover ends up below the
	// cheapest price in the book
	order := make([]int, len(lots))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if lots[order[a]].remainder != lots[order[b]].remainder {
			return lots[order[a]].remainder > lots[order[b]].remainder
		}
		return lots[order[a]].ticker < lots[order[b]].ticker
	})
	for bought := true; bought; {
		bought = false
		for _, i := range order {
			if spent+lots[i].price <= budget {
				lots[i].floor++
				spent += lots[i].price
				bought = true
			}
		}
	}

	out := Allocation{Shares: make(map[string]int64, len(lots)), Invested: spent, Leftover: budget - spent}
	for _, l := range lots {
		if l.floor > 0 {
			out.Shares[l.ticker] = int64(l.sign) * l.floor
		}
	}
	return out, nil
}
