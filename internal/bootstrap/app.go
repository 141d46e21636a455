package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/docqa/engine/internal/domain/ingestworker"
	"github.com/docqa/engine/internal/domain/sweeper"
	"github.com/docqa/engine/internal/infra/config"
)

// App encapsulates the HTTP server lifecycle alongside the three background
// processes that keep the ingestion pipeline moving: the worker pool (C5),
// the embedding backfill sweeper (C6), and the job queue's lease reclaimer
// (C4 crash recovery).
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *http.Server
	ingest   *ingestworker.Pool
	sweeper  *sweeper.Sweeper
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, ingest *ingestworker.Pool, sweep *sweeper.Sweeper) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server, ingest: ingest, sweeper: sweep}
}

// Run starts the HTTP server and the background processes, blocking until
// ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.logger.Info("ingestion worker pool starting")
		a.ingest.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		a.logger.Info("embedding backfill sweeper starting")
		a.sweeper.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		interval := time.Duration(a.cfg.Ingestion.LeaseSeconds) * time.Second / 2
		a.logger.Info("job lease reclaimer starting", "interval", interval)
		a.ingest.RunLeaseReclaimer(bgCtx, interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		err := a.server.Shutdown(shutdownCtx)
		cancelBG()
		wg.Wait()
		return err
	case err := <-errCh:
		cancelBG()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
