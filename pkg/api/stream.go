package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"soporte/pkg/auth"
	"soporte/pkg/fanout"
	"soporte/pkg/logger"
	"soporte/pkg/models"
	"soporte/pkg/store"
)

type wsUpgrader = websocket.Upgrader

func newUpgrader(allowedOrigins []string) wsUpgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser client
				return true
			}
			return wildcard || allowed[origin]
		},
	}
}

// streamThread handles GET /v1/threads/{tenant}/stream: a per-thread live
// push over WebSocket. While a tenant holds its stream open, delivered
// operator messages are marked read for the tenant (the open-view
// signal). A consumer that disconnects reconciles with ?since on the
// messages endpoint; the stream never replays the gap.
func (h *handlers) streamThread(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenantID := mux.Vars(r)["tenant"]
	if err := auth.AuthorizeThread(id, tenantID); err != nil {
		jsonError(w, http.StatusForbidden, "forbidden")
		return
	}
	h.serveStream(w, r, id, tenantID)
}

// streamAll handles GET /v1/stream: the operator's all-threads
// multiplexed push.
func (h *handlers) streamAll(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok || id.Role != models.RoleOperator {
		jsonError(w, http.StatusForbidden, "forbidden")
		return
	}
	h.serveStream(w, r, id, fanout.FilterAll)
}

func (h *handlers) serveStream(w http.ResponseWriter, r *http.Request, id auth.Identity, filter string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(filter)
	defer sub.Close()

	// the read loop exists to observe the close; inbound frames are
	// discarded (sends go through the REST endpoint)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug("stream_opened", "subject", id.Subject, "filter", filter)
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("stream_write_failed", "subject", id.Subject, "error", err)
				return
			}
			if id.Role == models.RoleTenant && msg.SenderRole == models.RoleOperator {
				// tenant's view is open and just received this message
				if _, err := store.MarkRead(msg.TenantID, models.RoleTenant); err != nil {
					logger.Warn("stream_markread_failed", "tenant", msg.TenantID, "error", err)
				}
			}
		}
	}
}
