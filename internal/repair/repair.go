// Package repair periodically recomputes every thread's unread counters
// from the message flags and fixes any cached index row that drifted.
// Drift is self-healing: delivery correctness was already preserved, the
// sweep only restores counter freshness.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"soporte/pkg/config"
	"soporte/pkg/logger"
	"soporte/pkg/store"
)

// Start starts the repair scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	if !cfg.Repair.Enabled {
		logger.Info("repair_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Repair.Cron
	if cronExpr == "" {
		cronExpr = "*/15 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid repair cron expression: %s", cfg.Repair.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr)
	logger.Info("repair_scheduler_started", "cron", cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, so sweeps fire on the exact cron boundary.
func runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("repair_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("repair_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(); err != nil {
				logger.Error("repair_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("repair_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps every thread once. Exposed for tests and admin triggers.
func RunOnce() error {
	tenants, err := store.ListTenants()
	if err != nil {
		return err
	}
	repaired := 0
	for _, t := range tenants {
		ok, err := store.RecountThread(t)
		if err != nil {
			logger.Error("repair_recount_failed", "tenant", t, "error", err)
			continue
		}
		if ok {
			repaired++
		}
	}
	logger.Info("repair_sweep_done", "threads", len(tenants), "repaired", repaired)
	return nil
}
