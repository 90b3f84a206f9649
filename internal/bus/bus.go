// Package bus provides the in-process control-signal channel between the
// orchestrator and batch execution controllers. Topics are keyed by venue
// symbol; publishing never blocks the publisher.
package bus

import (
	"log/slog"
	"sync"

	"github.com/lsquant/twapbot/internal/types"
)

const subscriberBuffer = 16

// Publisher publishes control signals to a topic.
type Publisher interface {
	Publish(topic string, sig types.ControlSignal)
}

// Subscriber subscribes to control signals on a topic.
type Subscriber interface {
	Subscribe(topic string) (<-chan types.ControlSignal, func())
}

// Bus is an in-memory publish/subscribe hub for control signals.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[int]chan types.ControlSignal
	nextID int
}

// New creates a new control-signal bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		topics: make(map[string]map[int]chan types.ControlSignal),
	}
}

// Publish delivers a signal to every subscriber of the topic. Slow
// subscribers with a full buffer miss the signal; the drop is logged.
func (b *Bus) Publish(topic string, sig types.ControlSignal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.topics[topic] {
		select {
		case ch <- sig:
		default:
			b.logger.Warn("control signal dropped",
				"topic", topic,
				"action", sig.Action,
				"subscriber", id,
			)
		}
	}
}

// Subscribe registers a subscriber on a topic. The returned cancel func
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan types.ControlSignal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]chan types.ControlSignal)
	}

	id := b.nextID
	b.nextID++

	ch := make(chan types.ControlSignal, subscriberBuffer)
	b.topics[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.topics[topic][id]; ok {
			delete(b.topics[topic], id)
			close(sub)
		}
	}

	return ch, cancel
}

// Interface guards.
var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
