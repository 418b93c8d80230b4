package app

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"objpool/internal/health"
	"objpool/pkg/config"
	"objpool/pkg/logger"
	"objpool/pkg/recycler"
	"objpool/pkg/state"
)

// App wires a demo Recycler, the admin HTTP surface, and the background pool
// status reporter into one lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	version   string
	commit    string
	buildDate string
	cfgSource string

	pool         *recycler.Recycler[*scratchBuffer]
	cancelReport context.CancelFunc

	srv      *http.Server
	fastAddr string
}

// New builds the demo Recycler from cfg and ensures the daemon's runtime
// directories exist under baseDir.
func New(cfg *config.Config, baseDir, addr, fastAddr, version, commit, buildDate, cfgSource string) (*App, error) {
	_ = godotenv.Load(".env")

	state.Init(baseDir)
	if err := state.EnsureStateDirs(baseDir); err != nil {
		return nil, err
	}

	opts := cfg.ToOptions()
	if cfg.Recycler.PoolName == "" {
		// Default the demo daemon's single pool into the opt-in Prometheus
		// series (SPEC_FULL §4.5) so /metrics reports real data out of the
		// box; an operator can still override via recycler.yaml or
		// RECYCLER_POOL_NAME.
		opts = append(opts, recycler.WithPoolName("scratch_buffer"))
	}
	pool := recycler.New(newScratchBuffer, opts...)

	return &App{
		cfg:       cfg,
		addr:      addr,
		fastAddr:  fastAddr,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		cfgSource: cfgSource,
		pool:      pool,
	}, nil
}

// Run starts the pool status reporter and the HTTP servers, and blocks until
// ctx is canceled or a server reports a fatal error.
func (a *App) Run(ctx context.Context) error {
	cancel, err := health.Start(ctx, "*/5 * * * *")
	if err != nil {
		return err
	}
	a.cancelReport = cancel

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Pool exposes the demo Recycler backing the echo handler, e.g. for tests
// that want to exercise Get/Recycle directly.
func (a *App) Pool() *recycler.Recycler[*scratchBuffer] {
	return a.pool
}

// Shutdown gracefully stops the HTTP server and the background reporter.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancelReport != nil {
		a.cancelReport()
	}
	if a.srv != nil {
		ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx2); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
			return err
		}
	}
	return nil
}
