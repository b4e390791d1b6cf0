package app

import (
	"net/http"

	"github.com/rs/cors"

	"soporte/pkg/api"
	"soporte/pkg/auth"
	"soporte/pkg/store"
	"soporte/pkg/telemetry"
)

// setupHTTPHandlers mounts the API, health probes and metrics.
func (a *App) setupHTTPHandlers(mux *http.ServeMux) {
	sec := a.securityConfig()
	mux.Handle("/v1/", api.New(api.Options{
		Bus:            a.bus,
		Notifier:       a.notifier,
		Provider:       auth.NewKeyProvider(sec),
		Security:       sec,
		MaxBodyBytes:   a.cfg.Limits.MaxBodySize.Int64(),
		AllowedOrigins: a.cfg.Security.CORS.AllowedOrigins,
	}))
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", a.readyzHandler)
	mux.Handle("/metrics", telemetry.Handler())
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel carrying any server error.
func (a *App) startHTTP() <-chan error {
	mux := http.NewServeMux()
	a.setupHTTPHandlers(mux)

	var handler http.Handler = mux
	if origins := a.cfg.Security.CORS.AllowedOrigins; len(origins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Tenant-ID", "X-Tenant-Signature"},
			MaxAge:         600,
		}).Handler(mux)
	}

	a.srv = &http.Server{Addr: a.addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
