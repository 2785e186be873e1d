// Command eagroute runs the delivery fleet simulation server: it opens
// the store, bootstraps the map from CSV data, and serves the HTTP API
// while a timer loop drives simulation ticks.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eagroute/go-eagroute/config"
	"github.com/eagroute/go-eagroute/engine"
	"github.com/eagroute/go-eagroute/grid"
	"github.com/eagroute/go-eagroute/loader"
	"github.com/eagroute/go-eagroute/server"
	"github.com/eagroute/go-eagroute/store"
)

func main() {
	cfg := config.FromEnv()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("eagroute exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := loader.Load(ctx, st, cfg, log); err != nil {
		return err
	}

	nodes, err := st.ListNodes(ctx)
	if err != nil {
		return err
	}
	blocked, err := st.ListBlockedEdges(ctx)
	if err != nil {
		return err
	}
	g := grid.New(nodes, blocked)
	log.Info().Int("nodes", g.Size()).Int("blocked_edges", len(blocked)).Msg("grid ready")

	eng := engine.New(cfg, st, g, log)
	srv := server.New(cfg, st, eng, g, log)

	go eng.Loop(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
