package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters and gauges for the messaging core. Fan-out drops and notify
// failures are expected events under the best-effort contracts; they are
// counted so operators can see reconciliation pressure.
var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soporte_messages_appended_total",
		Help: "Messages appended to the durable log.",
	})

	MessagesMarkedRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soporte_messages_marked_read_total",
		Help: "Messages flipped to read, by role.",
	}, []string{"role"})

	IndexDriftRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soporte_index_drift_repaired_total",
		Help: "Unread counter caches repaired after disagreeing with message flags.",
	})

	FanoutSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soporte_fanout_subscribers",
		Help: "Live fan-out subscriptions.",
	})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soporte_fanout_dropped_total",
		Help: "Live deliveries dropped because a subscriber buffer was full.",
	})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soporte_notify_failures_total",
		Help: "Notification events dropped or failed to send.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }
