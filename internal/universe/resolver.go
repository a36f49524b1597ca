// Package universe resolves the set of equities eligible at an as-of date,
// with sectors and point-in-time market capitalizations.
package universe

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

// Sector tags form a fixed closed set; Unknown is the sink for coverage gaps.
const (
	SectorTechnology     = "Technology"
	SectorHealthcare     = "Healthcare"
	SectorFinancials     = "Financial Services"
	SectorConsumerCyc    = "Consumer Cyclical"
	SectorConsumerDef    = "Consumer Defensive"
	SectorCommunication  = "Communication Services"
	SectorIndustrials    = "Industrials"
	SectorEnergy         = "Energy"
	SectorUtilities      = "Utilities"
	SectorRealEstate     = "Real Estate"
	SectorBasicMaterials = "Basic Materials"
	SectorUnknown        = "Unknown"
)

var knownSectors = map[string]bool{
	SectorTechnology:     true,
	SectorHealthcare:     true,
	SectorFinancials:     true,
	SectorConsumerCyc:    true,
	SectorConsumerDef:    true,
	SectorCommunication:  true,
	SectorIndustrials:    true,
	SectorEnergy:         true,
	SectorUtilities:      true,
	SectorRealEstate:     true,
	SectorBasicMaterials: true,
	SectorUnknown:        true,
}

// NormalizeSector maps unrecognized tags to the Unknown sink.
func NormalizeSector(s string) string {
	if knownSectors[s] {
		return s
	}
	return SectorUnknown
}

// Constituent is one universe member at a resolution date.
type Constituent struct {
	Ticker    string  `json:"ticker"`
	Sector    string  `json:"sector"`
	MarketCap float64 `json:"market_cap"`
}

// Universe is the immutable resolution result for one as-of date.
type Universe struct {
	AsOf    time.Time     `json:"as_of"`
	Members []Constituent `json:"members"`
}

// Tickers returns member tickers in resolution order.
func (u Universe) Tickers() []string {
	out := make([]string, len(u.Members))
	for i, m := range u.Members {
		out[i] = m.Ticker
	}
	return out
}

// SectorOf returns the ticker→sector map for the optimizer.
func (u Universe) SectorOf() map[string]string {
	out := make(map[string]string, len(u.Members))
	for _, m := range u.Members {
		out[m.Ticker] = m.Sector
	}
	return out
}

// Contains reports whether ticker is a member.
func (u Universe) Contains(ticker string) bool {
	for _, m := range u.Members {
		if m.Ticker == ticker {
			return true
		}
	}
	return false
}

// Resolver yields the eligible universe at an as-of date.
type Resolver interface {
	Resolve(ctx context.Context, asOf time.Time) (Universe, error)
}

// Membership is one ticker's listing window in a static universe file.
// A zero RemovedAt means the ticker is still a member.
type Membership struct {
	Ticker    string     `yaml:"ticker"`
	Sector    string     `yaml:"sector"`
	AddedAt   time.Time  `yaml:"added_at"`
	RemovedAt *time.Time `yaml:"removed_at,omitempty"`
}

// StaticConfig is the yaml shape of a historical-constituents file.
type StaticConfig struct {
	Universe struct {
		Name        string       `yaml:"name"`
		Description string       `yaml:"description"`
		Members     []Membership `yaml:"members"`
	} `yaml:"universe"`
}

// StaticResolver resolves from a historical constituents list, pulling
// point-in-time market caps from the provider. Members without an observable
// market cap at the as-of date are dropped.
type StaticResolver struct {
	members  []Membership
	provider data.MarketDataProvider
	logger   zerolog.Logger
}

// NewStaticResolver builds a resolver over an in-memory membership list.
func NewStaticResolver(members []Membership, provider data.MarketDataProvider) *StaticResolver {
	return &StaticResolver{
		members:  members,
		provider: provider,
		logger:   log.With().Str("component", "universe").Logger(),
	}
}

// LoadStaticResolver reads a constituents yaml file.
func LoadStaticResolver(path string, provider data.MarketDataProvider) (*StaticResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file %s: %w", path, err)
	}
	var cfg StaticConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse universe file %s: %w", path, err)
	}
	if len(cfg.Universe.Members) == 0 {
		return nil, fmt.Errorf("%w: universe file %s has no members", errs.ErrConfigurationInvalid, path)
	}
	return NewStaticResolver(cfg.Universe.Members, provider), nil
}

var _ Resolver = (*StaticResolver)(nil)

// Resolve returns the members listed at asOf with positive market caps,
// sorted by ticker for deterministic downstream ordering.
func (r *StaticResolver) Resolve(ctx context.Context, asOf time.Time) (Universe, error) {
	eligible := make([]Membership, 0, len(r.members))
	for _, m := range r.members {
		if m.AddedAt.After(asOf) {
			continue
		}
		if m.RemovedAt != nil && !m.RemovedAt.After(asOf) {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return Universe{}, fmt.Errorf("resolve %s: no members listed: %w",
			asOf.Format("2006-01-02"), errs.ErrInsufficientUniverse)
	}

	tickers := make([]string, len(eligible))
	for i, m := range eligible {
		tickers[i] = m.Ticker
	}
	caps, err := r.provider.MarketCaps(ctx, tickers, asOf)
	if err != nil {
		return Universe{}, fmt.Errorf("resolve %s: market caps: %w", asOf.Format("2006-01-02"), err)
	}

	members := make([]Constituent, 0, len(eligible))
	for _, m := range eligible {
		cap, ok := caps[m.Ticker]
		if !ok || cap <= 0 {
			r.logger.Debug().Str("ticker", m.Ticker).Msg("Dropping member without observable market cap")
			continue
		}
		members = append(members, Constituent{
			Ticker:    m.Ticker,
			Sector:    NormalizeSector(m.Sector),
			MarketCap: cap,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Ticker < members[j].Ticker })

	return Universe{AsOf: asOf, Members: members}, nil
}
