// Package runtime wires the realtime canvas service together and
// manages its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/httpapi"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/outbox"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/realtime"
	canvassvc "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/canvas"
	snapshotsvc "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/snapshot"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage/postgres"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/logging"
)

// Application wires core dependencies and manages the server lifecycle.
type Application struct {
	cfg        *config.Config
	log        zerolog.Logger
	httpServer *http.Server
	outbox     *outbox.Outbox
	cron       *cron.Cron
	store      storage.Store
	pg         *postgres.Store
}

// NewApplication constructs an application instance with default wiring.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Logging)

	var (
		store storage.Store
		pg    *postgres.Store
	)
	if cfg.Database.DSN != "" {
		pg, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("configure store: %w", err)
		}
		store = pg
		log.Info().Msg("using postgres persistence")
	} else {
		store = storage.NewMemory()
		log.Warn().Msg("no database configured, using in-memory persistence")
	}

	box := outbox.New(store, cfg.Outbox, log)
	loader := canvassvc.NewLoader(store, log)
	registry := canvassvc.NewRegistry(loader, cfg.Project.IdleTTL, log)
	svc := canvassvc.NewService(registry, box, log)
	compactor := snapshotsvc.NewCompactor(store, loader, cfg.Snapshot, log)

	hub := realtime.NewHub(log)
	wsHandler := realtime.NewHandler(svc, hub, cfg.Realtime, log)
	router := httpapi.NewRouter(compactor, wsHandler, log)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Snapshot.Schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), cfg.Snapshot.SweepTimeout)
		defer cancel()
		if _, err := compactor.Sweep(sweepCtx); err != nil {
			log.Warn().Err(err).Msg("scheduled compaction sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule compaction: %w", err)
	}
	if _, err := scheduler.AddFunc(cfg.Project.SweepSchedule, func() {
		registry.Sweep(time.Now())
	}); err != nil {
		return nil, fmt.Errorf("schedule registry sweep: %w", err)
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: httpSrv,
		outbox:     box,
		cron:       scheduler,
		store:      store,
		pg:         pg,
	}, nil
}

// Log exposes the application logger.
func (a *Application) Log() zerolog.Logger { return a.log }

// Run starts the workers and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	a.outbox.Start()
	a.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.httpServer.Addr).Msg("http server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the scheduler, drains the outbox and closes the HTTP
// server and database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.outbox.Close(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("outbox did not drain before shutdown deadline")
	}

	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.log.Warn().Err(err).Msg("error closing database connection")
		}
	}
	return nil
}
