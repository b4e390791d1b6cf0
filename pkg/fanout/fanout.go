// Package fanout pushes newly appended messages to live viewers. It is a
// liveness optimization only: delivery is fire-and-forget and a consumer
// that missed messages reconciles against the durable log with a since
// cursor. Durability lives entirely in the store.
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"soporte/pkg/logger"
	"soporte/pkg/models"
	"soporte/pkg/telemetry"
)

// FilterAll subscribes to every tenant's thread. The API layer restricts
// it to the operator identity.
const FilterAll = "*"

// subscriberBuffer bounds each subscription's in-flight deliveries. A
// full buffer drops the delivery; the subscriber recovers it on its next
// reconcile.
const subscriberBuffer = 64

// Bus is a publish/subscribe channel scoped by tenant id.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// Subscription is one live viewer's stream of new messages. Close is
// immediate, idempotent and leak-free; after Close the channel is closed
// and the slot is freed.
type Subscription struct {
	id     string
	filter string
	ch     chan models.Message
	bus    *Bus
	once   sync.Once
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a viewer for one tenant's thread, or for all
// threads with FilterAll.
func (b *Bus) Subscribe(filter string) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		ch:     make(chan models.Message, subscriberBuffer),
		bus:    b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	telemetry.FanoutSubscribers.Inc()
	logger.Debug("fanout_subscribed", "sub", sub.id, "filter", filter)
	return sub
}

// Publish delivers msg to every subscription matching its tenant, plus
// the all-threads subscribers. No acknowledgment, no retry: a slow
// subscriber's delivery is dropped and recovered by its next resync.
func (b *Bus) Publish(msg models.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != FilterAll && sub.filter != msg.TenantID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			telemetry.FanoutDropped.Inc()
			logger.Debug("fanout_dropped", "sub", sub.id, "tenant", msg.TenantID, "id", msg.ID)
		}
	}
}

// Subscribers reports the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// C is the subscription's receive channel. It is closed by Close.
func (s *Subscription) C() <-chan models.Message { return s.ch }

// Close frees the subscription slot and closes the channel. Safe to call
// more than once. The close happens under the bus write lock so no
// publish can race a send onto the closed channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
		telemetry.FanoutSubscribers.Dec()
		logger.Debug("fanout_unsubscribed", "sub", s.id)
	})
}
