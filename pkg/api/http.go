package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"soporte/pkg/auth"
	"soporte/pkg/fanout"
	"soporte/pkg/models"
	"soporte/pkg/notify"
)

// Options carries the collaborators the handlers need.
type Options struct {
	Bus            *fanout.Bus
	Notifier       *notify.Dispatcher
	Provider       auth.Provider
	Security       auth.Config
	MaxBodyBytes   int64
	AllowedOrigins []string
}

type handlers struct {
	bus          *fanout.Bus
	notifier     *notify.Dispatcher
	maxBodyBytes int64
	upgrader     wsUpgrader
}

// New builds the versioned API router. Every /v1 route runs behind the
// identity middleware; thread-level decisions happen in the handlers via
// the access gate.
func New(opts Options) http.Handler {
	h := &handlers{
		bus:          opts.Bus,
		notifier:     opts.Notifier,
		maxBodyBytes: opts.MaxBodyBytes,
		upgrader:     newUpgrader(opts.AllowedOrigins),
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.Middleware(opts.Provider, opts.Security))

	v1.HandleFunc("/threads", h.listThreads).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{tenant}", h.getThread).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{tenant}/messages", h.appendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{tenant}/messages", h.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{tenant}/read", h.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{tenant}/stream", h.streamThread).Methods(http.MethodGet)
	v1.HandleFunc("/stream", h.streamAll).Methods(http.MethodGet)
	return r
}

// errStatus maps the error taxonomy onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func jsonWrite(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonWrite(w, status, map[string]string{"error": message})
}

func jsonFail(w http.ResponseWriter, err error) {
	jsonError(w, errStatus(err), err.Error())
}
