package repair

import (
	"context"
	"encoding/json"
	"testing"

	"soporte/pkg/config"
	"soporte/pkg/models"
	"soporte/pkg/store"
)

func TestRunOnceRepairsDriftedThreads(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m, err := store.Append("acme", models.RoleTenant, "hola")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append("globex", models.RoleTenant, "buenas"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// corrupt acme's index row: counters zeroed while the flag says unread
	bad, _ := json.Marshal(map[string]interface{}{
		"tenant_id":       "acme",
		"last_message_at": m.CreatedAt,
	})
	if err := store.DBSet([]byte("thread:acme:meta"), bad); err != nil {
		t.Fatalf("DBSet: %v", err)
	}

	if err := RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	sum, found, err := store.GetThreadSummary("acme")
	if err != nil || !found {
		t.Fatalf("GetThreadSummary: found=%v err=%v", found, err)
	}
	if sum.UnreadForOperator != 1 {
		t.Fatalf("sweep left acme counter at %d, want 1", sum.UnreadForOperator)
	}

	// the healthy thread is untouched
	sum, _, err = store.GetThreadSummary("globex")
	if err != nil {
		t.Fatalf("GetThreadSummary: %v", err)
	}
	if sum.UnreadForOperator != 1 {
		t.Fatalf("globex counter changed to %d", sum.UnreadForOperator)
	}
}

func TestStartValidatesCron(t *testing.T) {
	cfg := &config.Config{}
	cfg.Repair.Enabled = true
	cfg.Repair.Cron = "not a cron"

	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatalf("invalid cron should be rejected")
	}

	cfg.Repair.Cron = "*/15 * * * *"
	cancel, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := &config.Config{}
	cancel, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}
