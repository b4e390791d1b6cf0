package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"soporte/pkg/auth"
	"soporte/pkg/logger"
	"soporte/pkg/models"
	"soporte/pkg/store"
)

// appendMessage handles POST /v1/threads/{tenant}/messages. The append,
// the index update and the fan-out publish run as one logical operation;
// the notification is queued best-effort afterwards.
func (h *handlers) appendMessage(w http.ResponseWriter, r *http.Request) {
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

	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}

	msg, err := store.Append(tenantID, id.Role, in.Body)
	if err != nil {
		jsonFail(w, err)
		return
	}

	h.bus.Publish(msg)
	h.notifier.MessageAppended(msg)

	logger.Info("message_created", "tenant", tenantID, "id", msg.ID, "sender", string(id.Role))
	jsonWrite(w, http.StatusCreated, msg)
}

// listMessages handles GET /v1/threads/{tenant}/messages?since=<id>.
func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
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

	msgs, err := store.List(tenantID, r.URL.Query().Get("since"))
	if err != nil {
		jsonFail(w, err)
		return
	}
	jsonWrite(w, http.StatusOK, struct {
		TenantID string           `json:"tenant_id"`
		Messages []models.Message `json:"messages"`
	}{TenantID: tenantID, Messages: msgs})
}

// markRead handles POST /v1/threads/{tenant}/read. The caller's own role
// is reconciled; the operator hits this when selecting a thread in the
// multiplexed view, a tenant when opening its thread.
func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
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

	n, err := store.MarkRead(tenantID, id.Role)
	if err != nil {
		jsonFail(w, err)
		return
	}
	jsonWrite(w, http.StatusOK, map[string]int{"marked": n})
}

// listThreads handles GET /v1/threads, the operator's overview.
func (h *handlers) listThreads(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok || id.Role != models.RoleOperator {
		jsonError(w, http.StatusForbidden, "forbidden")
		return
	}
	sums, err := store.ListThreadSummaries()
	if err != nil {
		jsonFail(w, err)
		return
	}
	jsonWrite(w, http.StatusOK, struct {
		Threads []models.ThreadSummary `json:"threads"`
	}{Threads: sums})
}

// getThread handles GET /v1/threads/{tenant}: the single-thread summary
// backing the tenant's unread badge.
func (h *handlers) getThread(w http.ResponseWriter, r *http.Request) {
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

	sum, found, err := store.GetThreadSummary(tenantID)
	if err != nil {
		jsonFail(w, err)
		return
	}
	if !found {
		// thread exists implicitly; no messages yet
		sum = models.ThreadSummary{TenantID: tenantID}
	}
	jsonWrite(w, http.StatusOK, sum)
}
