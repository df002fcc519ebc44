// Package eventbus is the small broker spec §9 calls for: typed
// subscribe(topic)->channel and publish(topic, payload), used to fan out
// tool-invocation and approval lifecycle events (pkg/moonmodels.Event) from
// the Tool Runtime and Approval Flow to the Gateway Facade's push channel.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// subscriberBuffer bounds each subscriber's channel; a slow subscriber drops
// events rather than blocking the publisher, the same non-blocking-Emit
// contract internal/agent's EventSink implementations use.
const subscriberBuffer = 64

// Bus is a topic-keyed pub/sub broker. Zero value is not usable; use New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[moonmodels.EventType][]chan moonmodels.Event
	sequence uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[moonmodels.EventType][]chan moonmodels.Event)}
}

// Subscribe returns a channel that receives every event published to topic
// from this point on. The channel is never closed by the bus; callers drop
// it by letting it be garbage collected once they stop reading (best-effort
// broadcast, not a managed subscription registry).
func (b *Bus) Subscribe(topic moonmodels.EventType) <-chan moonmodels.Event {
	ch := make(chan moonmodels.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish stamps event with the next monotonic sequence number and fans it
// out to every subscriber of event.Type. Publish never blocks: a full
// subscriber channel has its event dropped.
func (b *Bus) Publish(event moonmodels.Event) moonmodels.Event {
	event.Sequence = atomic.AddUint64(&b.sequence, 1)
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	subscribers := b.subs[event.Type]
	b.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}
