// Package notify emits best-effort "new support message" events to an
// outbound mailer when a tenant writes. Delivery failures are logged and
// counted, never surfaced to the append path.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"soporte/pkg/logger"
	"soporte/pkg/models"
	"soporte/pkg/telemetry"
)

// Sink receives new-message events. The mailer is the production
// implementation; tests inject fakes.
type Sink interface {
	NewMessage(tenantID, preview string) error
}

// Mailer sends a plain-text e-mail per event over SMTP.
type Mailer struct {
	Addr string // host:port
	From string
	To   []string
}

func (m *Mailer) NewMessage(tenantID, preview string) error {
	if m.Addr == "" || m.From == "" || len(m.To) == 0 {
		return fmt.Errorf("mailer not configured")
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: New support message from %s\r\n\r\n%s\r\n",
		m.From, strings.Join(m.To, ", "), tenantID, preview)
	return smtp.SendMail(m.Addr, nil, m.From, m.To, []byte(body))
}

type event struct {
	tenantID string
	preview  string
}

// Dispatcher decouples the append path from the sink: events go through
// a bounded queue served by one worker; a full queue drops the event.
// Enqueueing after Close is a safe drop, not a panic.
type Dispatcher struct {
	sink       Sink
	ch         chan event
	previewMax int
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts the dispatch worker. queueSize and previewMax fall
// back to sane defaults when non-positive.
func NewDispatcher(sink Sink, queueSize, previewMax int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if previewMax <= 0 {
		previewMax = 140
	}
	d := &Dispatcher{
		sink:       sink,
		ch:         make(chan event, queueSize),
		previewMax: previewMax,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// MessageAppended enqueues a notification when a tenant authored the
// message. Operator replies notify nobody; the tenant sees them live or
// on next fetch.
func (d *Dispatcher) MessageAppended(m models.Message) {
	if d == nil || m.SenderRole != models.RoleTenant {
		return
	}
	ev := event{tenantID: m.TenantID, preview: Truncate(m.Body, d.previewMax)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		telemetry.NotifyFailures.Inc()
		logger.Warn("notify_after_close", "tenant", m.TenantID)
		return
	}
	select {
	case d.ch <- ev:
	default:
		telemetry.NotifyFailures.Inc()
		logger.Warn("notify_queue_full", "tenant", m.TenantID)
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.ch {
		if err := d.sink.NewMessage(ev.tenantID, ev.preview); err != nil {
			telemetry.NotifyFailures.Inc()
			logger.Warn("notify_send_failed", "tenant", ev.tenantID, "error", err)
			continue
		}
		logger.Debug("notify_sent", "tenant", ev.tenantID)
	}
}

// Truncate cuts s to at most max runes, appending an ellipsis when it
// actually cut something.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
