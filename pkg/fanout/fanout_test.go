package fanout

import (
	"testing"
	"time"

	"soporte/pkg/models"
)

func recv(t *testing.T, sub *Subscription) models.Message {
	t.Helper()
	select {
	case m, ok := <-sub.C():
		if !ok {
			t.Fatalf("channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	return models.Message{}
}

func TestPublishRespectsFilter(t *testing.T) {
	bus := New()
	acme := bus.Subscribe("acme")
	defer acme.Close()
	other := bus.Subscribe("globex")
	defer other.Close()

	bus.Publish(models.Message{ID: "1", TenantID: "acme", Body: "hola"})

	got := recv(t, acme)
	if got.TenantID != "acme" || got.Body != "hola" {
		t.Fatalf("wrong delivery: %+v", got)
	}
	select {
	case m := <-other.C():
		t.Fatalf("cross-tenant leak: %+v", m)
	default:
	}
}

func TestFilterAllSeesEveryThread(t *testing.T) {
	bus := New()
	all := bus.Subscribe(FilterAll)
	defer all.Close()

	bus.Publish(models.Message{ID: "1", TenantID: "acme"})
	bus.Publish(models.Message{ID: "2", TenantID: "globex"})

	seen := map[string]bool{}
	seen[recv(t, all).TenantID] = true
	seen[recv(t, all).TenantID] = true
	if !seen["acme"] || !seen["globex"] {
		t.Fatalf("all-threads subscriber missed a tenant: %v", seen)
	}
}

func TestCloseFreesSlotAndIsIdempotent(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("acme")
	if bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Subscribers())
	}

	sub.Close()
	sub.Close()
	if bus.Subscribers() != 0 {
		t.Fatalf("slot not freed, got %d", bus.Subscribers())
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("channel should be closed")
	}

	// publishing after close must not panic
	bus.Publish(models.Message{ID: "1", TenantID: "acme"})
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := New()
	slow := bus.Subscribe("acme")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(models.Message{ID: "x", TenantID: "acme"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber buffer")
	}

	// the buffer holds at most subscriberBuffer deliveries; the rest dropped
	n := 0
	for {
		select {
		case <-slow.C():
			n++
		default:
			if n != subscriberBuffer {
				t.Fatalf("expected %d buffered deliveries, got %d", subscriberBuffer, n)
			}
			return
		}
	}
}
