package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/data/breaker"
	"github.com/sawpanic/equityrun/internal/data/cache"
	"github.com/sawpanic/equityrun/internal/data/postgres"
	"github.com/sawpanic/equityrun/internal/data/ratelimit"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/universe"
)

const openTimeout = 10 * time.Second

// stack is the assembled data layer behind every subcommand.
type stack struct {
	cfg       config.Config
	provider  data.MarketDataProvider
	resolver  universe.Resolver
	collector *metrics.Collector
	registry  *metrics.Registry
	store     *postgres.Provider
}

func (s *stack) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildStack opens postgres and layers rate limiting, the circuit breaker,
// and the optional Redis cache on top, in that order.
func buildStack(cmd *cobra.Command) (*stack, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Data.PostgresDSN == "" {
		return nil, fmt.Errorf("data.postgres_dsn is required")
	}

	registry := metrics.NewRegistry()
	collector := metrics.NewCollector(registry)

	store, err := postgres.Open(cfg.Data.PostgresDSN, openTimeout)
	if err != nil {
		return nil, err
	}

	var provider data.MarketDataProvider = store
	provider = ratelimit.New(provider, cfg.Data.RateLimitPerSec, cfg.Data.RateLimitBurst)
	provider = breaker.New(provider, breaker.Settings{
		MaxFailures: cfg.Data.BreakerMaxFailures,
		Cooldown:    time.Duration(cfg.Data.BreakerCooldownSecs) * time.Second,
	}).WithMetrics(collector)

	if cfg.Data.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Data.RedisAddr,
			Password: cfg.Data.RedisPassword,
			DB:       cfg.Data.RedisDB,
		})
		ttl := time.Duration(cfg.Data.CacheTTLHours) * time.Hour
		provider = cache.New(provider, client, ttl).WithMetrics(collector)
	}

	universePath, _ := cmd.Flags().GetString("universe")
	resolver, err := universe.LoadStaticResolver(universePath, provider)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &stack{
		cfg:       cfg,
		provider:  provider,
		resolver:  resolver,
		collector: collector,
		registry:  registry,
		store:     store,
	}, nil
}
