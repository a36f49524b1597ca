package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Serve health and metrics endpoints",
		Long:  "Starts an HTTP server exposing /health with the collector snapshot and /metrics in Prometheus exposition format.",
		RunE:  runHealth,
	}
	cmd.Flags().String("addr", ":8090", "Listen address")
	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	s, err := buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	// a cheap probe so the snapshot is not empty on first scrape
	probeCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	if _, err := s.provider.BenchmarkPrices(probeCtx, time.Now().AddDate(0, 0, -7), time.Now()); err != nil {
		log.Warn().Err(err).Msg("Benchmark probe failed, serving anyway")
	}
	cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.registry.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := s.collector.GetSnapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Health server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-cmd.Context().Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
