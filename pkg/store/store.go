package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"soporte/pkg/logger"
	"soporte/pkg/models"
	"soporte/pkg/telemetry"
)

var (
	db *pebble.DB

	// seq disambiguates message keys that would otherwise collide; the
	// timestamp is clamped monotonic per thread so the key order equals
	// (created_at, id) order.
	seq uint64
)

// locks is the per-tenant serialization point. Threads for different
// tenants never contend.
var locks lockPool

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

// threadMeta is the persisted per-thread index row: last activity plus
// the two unread counter caches. It is provably recomputable from the
// message rows; RecountThread repairs any drift.
type threadMeta struct {
	TenantID          string `json:"tenant_id"`
	LastMessageAt     int64  `json:"last_message_at"`
	UnreadForOperator int    `json:"unread_for_operator"`
	UnreadForTenant   int    `json:"unread_for_tenant"`
}

func (t threadMeta) summary() models.ThreadSummary {
	return models.ThreadSummary{
		TenantID:          t.TenantID,
		LastMessageAt:     t.LastMessageAt,
		UnreadForOperator: t.UnreadForOperator,
		UnreadForTenant:   t.UnreadForTenant,
	}
}

// Key layout:
//   thread:<tenant>:msg:<%020d ts>-<%06d seq>   message JSON
//   thread:<tenant>:meta                        threadMeta JSON
// Tenant ids are opaque caller-supplied subjects; they are query-escaped
// in keys so an id carrying the ":" delimiter cannot nest its rows inside
// another thread's scan range.
func msgID(ts int64, s uint64) string { return fmt.Sprintf("%020d-%06d", ts, s) }

func encodeTenant(tenantID string) string { return url.QueryEscape(tenantID) }

func msgPrefix(tenantID string) string { return "thread:" + encodeTenant(tenantID) + ":msg:" }

func msgKey(tenantID, id string) string { return msgPrefix(tenantID) + id }

func metaKey(tenantID string) string { return "thread:" + encodeTenant(tenantID) + ":meta" }

// Append validates, persists and indexes one message. The message row and
// the updated index row are committed in a single batch so no reader can
// observe one without the other. The sender's own read flag starts true.
func Append(tenantID string, sender models.Role, body string) (models.Message, error) {
	if db == nil {
		return models.Message{}, models.ErrStorageUnavailable
	}
	if strings.TrimSpace(tenantID) == "" {
		return models.Message{}, models.ErrMissingTenant
	}
	if body == "" {
		return models.Message{}, models.ErrEmptyBody
	}
	if !sender.Valid() {
		return models.Message{}, fmt.Errorf("%w: unknown sender role %q", models.ErrValidation, sender)
	}

	mu := locks.get(tenantID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := readMeta(tenantID)
	if err != nil {
		return models.Message{}, err
	}

	ts := time.Now().UTC().UnixNano()
	if ts <= meta.LastMessageAt {
		// clock stall under the tenant lock; keep created_at strictly
		// increasing per thread
		ts = meta.LastMessageAt + 1
	}
	s := atomic.AddUint64(&seq, 1) % 1000000

	msg := models.Message{
		ID:         msgID(ts, s),
		TenantID:   tenantID,
		SenderRole: sender,
		Body:       body,
		CreatedAt:  ts,
	}
	msg.SetRead(sender)

	meta.TenantID = tenantID
	meta.LastMessageAt = ts
	if sender == models.RoleTenant {
		meta.UnreadForOperator++
	} else {
		meta.UnreadForTenant++
	}

	batch := db.NewBatch()
	mb, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	tb, err := json.Marshal(meta)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal thread meta: %w", err)
	}
	_ = batch.Set([]byte(msgKey(tenantID, msg.ID)), mb, nil)
	_ = batch.Set([]byte(metaKey(tenantID)), tb, nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_failed", "tenant", tenantID, "id", msg.ID, "error", err)
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	telemetry.MessagesAppended.Inc()
	logger.Debug("message_appended", "tenant", tenantID, "id", msg.ID, "sender", string(sender))
	return msg, nil
}

// List returns a thread's messages ascending by (created_at, id). When
// sinceID is non-empty only messages strictly after that id are returned.
// An unknown tenant yields an empty slice, not an error.
func List(tenantID, sinceID string) ([]models.Message, error) {
	if db == nil {
		return nil, models.ErrStorageUnavailable
	}
	prefix := []byte(msgPrefix(tenantID))
	start := prefix
	if sinceID != "" {
		start = []byte(msgKey(tenantID, sinceID))
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer iter.Close()

	out := []models.Message{}
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if sinceID != "" && bytes.Equal(iter.Key(), start) {
			continue // cursor is exclusive
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("list_invalid_message_json", "tenant", tenantID, "key", string(iter.Key()), "error", err)
			return nil, fmt.Errorf("invalid stored message: %w", err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return out, nil
}

// MarkRead bulk-flips the given role's read flag on every currently
// unread message in the thread and zeroes the matching counter, all in
// one batch under the tenant lock. It is idempotent; an empty thread is a
// valid no-op. Returns the number of messages flipped.
func MarkRead(tenantID string, role models.Role) (int, error) {
	if db == nil {
		return 0, models.ErrStorageUnavailable
	}
	if strings.TrimSpace(tenantID) == "" {
		return 0, models.ErrMissingTenant
	}
	if !role.Valid() {
		return 0, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}

	mu := locks.get(tenantID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := readMeta(tenantID)
	if err != nil {
		return 0, err
	}

	prefix := []byte(msgPrefix(tenantID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer iter.Close()

	batch := db.NewBatch()
	flipped := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("markread_invalid_message_json", "tenant", tenantID, "key", string(iter.Key()), "error", err)
			continue
		}
		if m.ReadBy(role) {
			continue
		}
		m.SetRead(role)
		nb, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal message: %w", err)
		}
		k := append([]byte(nil), iter.Key()...)
		_ = batch.Set(k, nb, nil)
		flipped++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if flipped == 0 && counterFor(meta, role) == 0 {
		// nothing to flip and the cache agrees; keep the no-op cheap
		return 0, nil
	}

	setCounter(&meta, role, 0)
	tb, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal thread meta: %w", err)
	}
	_ = batch.Set([]byte(metaKey(tenantID)), tb, nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("markread_failed", "tenant", tenantID, "role", string(role), "error", err)
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	telemetry.MessagesMarkedRead.WithLabelValues(string(role)).Add(float64(flipped))
	logger.Debug("thread_marked_read", "tenant", tenantID, "role", string(role), "flipped", flipped)
	return flipped, nil
}

// ListThreadSummaries returns one summary per tenant with at least one
// message, sorted by last activity descending. Operator-only at the API
// layer.
func ListThreadSummaries() ([]models.ThreadSummary, error) {
	if db == nil {
		return nil, models.ErrStorageUnavailable
	}
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer iter.Close()

	out := []models.ThreadSummary{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var meta threadMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			logger.Error("summaries_invalid_meta_json", "key", string(iter.Key()), "error", err)
			continue
		}
		if meta.LastMessageAt == 0 {
			continue
		}
		out = append(out, meta.summary())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt > out[j].LastMessageAt })
	return out, nil
}

// GetThreadSummary returns the summary for one tenant. ok is false when
// the tenant has no messages yet.
func GetThreadSummary(tenantID string) (models.ThreadSummary, bool, error) {
	if db == nil {
		return models.ThreadSummary{}, false, models.ErrStorageUnavailable
	}
	meta, err := readMeta(tenantID)
	if err != nil {
		return models.ThreadSummary{}, false, err
	}
	if meta.LastMessageAt == 0 {
		return models.ThreadSummary{}, false, nil
	}
	return meta.summary(), true, nil
}

// ListTenants returns every tenant id with a thread meta row.
func ListTenants() ([]string, error) {
	if db == nil {
		return nil, models.ErrStorageUnavailable
	}
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer iter.Close()

	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, "thread:") {
			break
		}
		if !strings.HasSuffix(k, ":meta") {
			continue
		}
		enc := strings.TrimSuffix(strings.TrimPrefix(k, "thread:"), ":meta")
		id, err := url.QueryUnescape(enc)
		if err != nil {
			logger.Error("tenants_invalid_key", "key", k, "error", err)
			continue
		}
		out = append(out, id)
	}
	return out, iter.Error()
}

// RecountThread recomputes a thread's unread counters and last activity
// from the message rows and repairs the cached index row when it
// disagrees. Drift is self-healing, never a user-facing error. Returns
// whether a repair was applied.
func RecountThread(tenantID string) (bool, error) {
	if db == nil {
		return false, models.ErrStorageUnavailable
	}

	mu := locks.get(tenantID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := readMeta(tenantID)
	if err != nil {
		return false, err
	}

	prefix := []byte(msgPrefix(tenantID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer iter.Close()

	var want threadMeta
	want.TenantID = tenantID
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.ReadByOperator {
			want.UnreadForOperator++
		}
		if !m.ReadByTenant {
			want.UnreadForTenant++
		}
		if m.CreatedAt > want.LastMessageAt {
			want.LastMessageAt = m.CreatedAt
		}
	}
	if err := iter.Error(); err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if want.LastMessageAt == 0 {
		// no messages; nothing to index
		return false, nil
	}
	if want == meta {
		return false, nil
	}

	tb, err := json.Marshal(want)
	if err != nil {
		return false, fmt.Errorf("failed to marshal thread meta: %w", err)
	}
	if err := db.Set([]byte(metaKey(tenantID)), tb, pebble.Sync); err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	telemetry.IndexDriftRepaired.Inc()
	logger.Warn("index_drift_repaired", "tenant", tenantID,
		"cached_operator", meta.UnreadForOperator, "actual_operator", want.UnreadForOperator,
		"cached_tenant", meta.UnreadForTenant, "actual_tenant", want.UnreadForTenant)
	return true, nil
}

// DBSet writes a raw key into the DB. Low-level helper for admin
// utilities and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return models.ErrStorageUnavailable
	}
	return db.Set(key, value, pebble.Sync)
}

func readMeta(tenantID string) (threadMeta, error) {
	v, closer, err := db.Get([]byte(metaKey(tenantID)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return threadMeta{}, nil
		}
		return threadMeta{}, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer closer.Close()
	var meta threadMeta
	if err := json.Unmarshal(v, &meta); err != nil {
		return threadMeta{}, fmt.Errorf("invalid thread meta: %w", err)
	}
	return meta, nil
}

func counterFor(meta threadMeta, role models.Role) int {
	if role == models.RoleTenant {
		return meta.UnreadForTenant
	}
	return meta.UnreadForOperator
}

func setCounter(meta *threadMeta, role models.Role, n int) {
	if role == models.RoleTenant {
		meta.UnreadForTenant = n
		return
	}
	meta.UnreadForOperator = n
}
