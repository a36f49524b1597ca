// Package postgres implements MarketDataProvider over a PostgreSQL schema of
// point-in-time price, fundamental, and macro tables. Every query is bounded
// by the caller's as-of date.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
)

// Provider serves market data from PostgreSQL.
type Provider struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// Open connects to the DSN, verifies the connection, and returns a provider.
func Open(dsn string, timeout time.Duration) (*Provider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres DSN", errs.ErrConfigurationInvalid)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %v", errs.ErrProviderUnavailable, err)
	}

	return &Provider{
		db:      db,
		timeout: timeout,
		logger:  log.With().Str("component", "postgres_provider").Logger(),
	}, nil
}

// Close releases the connection pool.
func (p *Provider) Close() error { return p.db.Close() }

var _ data.MarketDataProvider = (*Provider)(nil)

type priceRow struct {
	Date  time.Time `db:"trade_date"`
	Close float64   `db:"adj_close"`
}

func (p *Provider) Prices(ctx context.Context, ticker string, start, end time.Time) (data.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT trade_date, adj_close
		FROM prices
		WHERE ticker = $1 AND trade_date >= $2 AND trade_date <= $3
		ORDER BY trade_date ASC`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, ticker, start, end); err != nil {
		return nil, fmt.Errorf("query prices %s: %w: %v", ticker, errs.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("prices %s: %w", ticker, errs.ErrDataUnavailable)
	}
	series := make(data.PriceSeries, len(rows))
	for i, r := range rows {
		series[i] = data.PricePoint{Date: r.Date, Close: r.Close}
	}
	return series, nil
}

type fundamentalRow struct {
	FCF         sql.NullFloat64 `db:"fcf_ttm"`
	EBIT        sql.NullFloat64 `db:"ebit_ttm"`
	Revenue     sql.NullFloat64 `db:"revenue_ttm"`
	GrossProfit sql.NullFloat64 `db:"gross_profit_ttm"`
	Assets      sql.NullFloat64 `db:"total_assets"`
	CurrentLiab sql.NullFloat64 `db:"current_liabilities"`
	Shares      sql.NullFloat64 `db:"shares_outstanding"`
}

func nullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return data.Missing()
	}
	return v.Float64
}

func (p *Provider) Fundamentals(ctx context.Context, ticker string, asOf time.Time) (data.FundamentalSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT fcf_ttm, ebit_ttm, revenue_ttm, gross_profit_ttm,
		       total_assets, current_liabilities, shares_outstanding
		FROM fundamentals
		WHERE ticker = $1 AND observed_at <= $2
		ORDER BY observed_at DESC
		LIMIT 1`

	var row fundamentalRow
	err := p.db.GetContext(ctx, &row, query, ticker, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return data.FundamentalSnapshot{}, fmt.Errorf("fundamentals %s: %w", ticker, errs.ErrDataUnavailable)
	}
	if err != nil {
		return data.FundamentalSnapshot{}, fmt.Errorf("query fundamentals %s: %w: %v", ticker, errs.ErrProviderUnavailable, err)
	}
	return data.FundamentalSnapshot{
		FreeCashFlowTTM:    nullable(row.FCF),
		EBITTTM:            nullable(row.EBIT),
		RevenueTTM:         nullable(row.Revenue),
		GrossProfitTTM:     nullable(row.GrossProfit),
		TotalAssets:        nullable(row.Assets),
		CurrentLiabilities: nullable(row.CurrentLiab),
		SharesOutstanding:  nullable(row.Shares),
	}, nil
}

func (p *Provider) MarketCaps(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT DISTINCT ON (ticker) ticker, market_cap
		FROM market_caps
		WHERE ticker = ANY($1) AND observed_at <= $2
		ORDER BY ticker, observed_at DESC`

	type capRow struct {
		Ticker string  `db:"ticker"`
		Cap    float64 `db:"market_cap"`
	}
	var rows []capRow
	if err := p.db.SelectContext(ctx, &rows, query, pq.Array(tickers), asOf); err != nil {
		return nil, fmt.Errorf("query market caps: %w: %v", errs.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("market caps: %w", errs.ErrDataUnavailable)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Ticker] = r.Cap
	}
	return out, nil
}

func (p *Provider) BenchmarkPrices(ctx context.Context, start, end time.Time) (data.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT trade_date, adj_close
		FROM benchmark_prices
		WHERE trade_date >= $1 AND trade_date <= $2
		ORDER BY trade_date ASC`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("query benchmark: %w: %v", errs.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("benchmark: %w", errs.ErrDataUnavailable)
	}
	series := make(data.PriceSeries, len(rows))
	for i, r := range rows {
		series[i] = data.PricePoint{Date: r.Date, Close: r.Close}
	}
	return series, nil
}

func (p *Provider) CAPE(ctx context.Context, asOf time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT cape
		FROM shiller_cape
		WHERE observed_at <= $1
		ORDER BY observed_at DESC
		LIMIT 1`

	var cape float64
	err := p.db.GetContext(ctx, &cape, query, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("cape: %w", errs.ErrDataUnavailable)
	}
	if err != nil {
		return 0, fmt.Errorf("query cape: %w: %v", errs.ErrProviderUnavailable, err)
	}
	return cape, nil
}

func (p *Provider) FFFactorWindow(ctx context.Context, end time.Time, months int) (map[string]data.FFSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const windowQuery = `
		SELECT factor, monthly_return
		FROM (
			SELECT factor, monthly_return, month_end,
			       ROW_NUMBER() OVER (PARTITION BY factor ORDER BY month_end DESC) AS rn
			FROM ff_factors
			WHERE month_end <= $1
		) ranked
		WHERE rn <= $2
		ORDER BY factor, month_end ASC`

	type ffRow struct {
		Factor string  `db:"factor"`
		Return float64 `db:"monthly_return"`
	}
	var rows []ffRow
	if err := p.db.SelectContext(ctx, &rows, windowQuery, end, months); err != nil {
		return nil, fmt.Errorf("query ff factors: %w: %v", errs.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ff factors: %w", errs.ErrDataUnavailable)
	}

	const statsQuery = `
		SELECT factor, AVG(monthly_return) AS hist_mean, STDDEV_SAMP(monthly_return) AS hist_std
		FROM ff_factors
		WHERE month_end <= $1
		GROUP BY factor`

	type statsRow struct {
		Factor string          `db:"factor"`
		Mean   float64         `db:"hist_mean"`
		Std    sql.NullFloat64 `db:"hist_std"`
	}
	var stats []statsRow
	if err := p.db.SelectContext(ctx, &stats, statsQuery, end); err != nil {
		return nil, fmt.Errorf("query ff stats: %w: %v", errs.ErrProviderUnavailable, err)
	}

	out := make(map[string]data.FFSeries)
	for _, r := range rows {
		s := out[r.Factor]
		s.Monthly = append(s.Monthly, r.Return)
		out[r.Factor] = s
	}
	for _, st := range stats {
		s, ok := out[st.Factor]
		if !ok {
			continue
		}
		s.HistMean = st.Mean
		s.HistStd = nullable(st.Std)
		out[st.Factor] = s
	}
	return out, nil
}

func (p *Provider) IndexHistory(ctx context.Context, symbol string, end time.Time, lookbackDays int) (data.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT trade_date, adj_close
		FROM (
			SELECT trade_date, adj_close
			FROM index_prices
			WHERE symbol = $1 AND trade_date <= $2
			ORDER BY trade_date DESC
			LIMIT $3
		) recent
		ORDER BY trade_date ASC`

	var rows []priceRow
	if err := p.db.SelectContext(ctx, &rows, query, symbol, end, lookbackDays); err != nil {
		return nil, fmt.Errorf("query index %s: %w: %v", symbol, errs.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("index %s: %w", symbol, errs.ErrDataUnavailable)
	}
	series := make(data.PriceSeries, len(rows))
	for i, r := range rows {
		series[i] = data.PricePoint{Date: r.Date, Close: r.Close}
	}
	return series, nil
}

func (p *Provider) VIXStructure(ctx context.Context, asOf time.Time) (data.VIXStructure, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const query = `
		SELECT vix9d, vix30d, vix3m
		FROM vix_term_structure
		WHERE observed_at <= $1
		ORDER BY observed_at DESC
		LIMIT 1`

	type vixRow struct {
		VIX9D  sql.NullFloat64 `db:"vix9d"`
		VIX30D sql.NullFloat64 `db:"vix30d"`
		VIX3M  sql.NullFloat64 `db:"vix3m"`
	}
	var row vixRow
	err := p.db.GetContext(ctx, &row, query, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return data.VIXStructure{}, fmt.Errorf("vix structure: %w", errs.ErrDataUnavailable)
	}
	if err != nil {
		return data.VIXStructure{}, fmt.Errorf("query vix: %w: %v", errs.ErrProviderUnavailable, err)
	}
	return data.VIXStructure{
		VIX9D:  nullable(row.VIX9D),
		VIX30D: nullable(row.VIX30D),
		VIX3M:  nullable(row.VIX3M),
	}, nil
}
