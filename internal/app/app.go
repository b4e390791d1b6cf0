package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"soporte/internal/repair"
	"soporte/pkg/auth"
	"soporte/pkg/banner"
	"soporte/pkg/config"
	"soporte/pkg/fanout"
	"soporte/pkg/logger"
	"soporte/pkg/notify"
	"soporte/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	addr    string
	dbPath  string
	version string

	bus      *fanout.Bus
	notifier *notify.Dispatcher
	srv      *http.Server
}

// New validates config and initializes resources that do not require a
// running context (store, bus, notifier). Call Run to start the HTTP
// server and block until shutdown.
func New(cfg *config.Config, addr, dbPath, version string) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	if err := store.Open(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	a := &App{
		cfg:     cfg,
		addr:    addr,
		dbPath:  dbPath,
		version: version,
		bus:     fanout.New(),
	}

	if cfg.Notify.Enabled {
		sink := &notify.Mailer{
			Addr: cfg.Notify.SMTP.Addr,
			From: cfg.Notify.SMTP.From,
			To:   cfg.Notify.SMTP.To,
		}
		a.notifier = notify.NewDispatcher(sink, cfg.Notify.Queue, cfg.Notify.PreviewMax)
	}

	return a, nil
}

// Run starts the repair scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRepair, err := repair.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer stopRepair()

	banner.Print(a.addr, a.dbPath, a.version)

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.shutdown()
			return err
		}
		return nil
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		timeout := a.cfg.Server.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
		}
	}
	a.notifier.Close()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}

// securityConfig maps the YAML security block onto the auth config.
func (a *App) securityConfig() auth.Config {
	sec := auth.Config{
		OperatorKeys: map[string]struct{}{},
		SigningKeys:  map[string]struct{}{},
		RPS:          a.cfg.Security.RateLimit.RPS,
		Burst:        a.cfg.Security.RateLimit.Burst,
	}
	for _, k := range a.cfg.Security.OperatorKeys {
		sec.OperatorKeys[k] = struct{}{}
	}
	for _, k := range a.cfg.Security.SigningKeys {
		sec.SigningKeys[k] = struct{}{}
	}
	return sec
}
