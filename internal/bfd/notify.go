package bfd

import (
	"log/slog"
	"sync"
)

// Notifier fans StateChange events out to subscribers.
//
// The Engine publishes from its loop goroutine and must never block on a
// slow consumer, so a full subscriber channel drops the event and logs a
// warning. Subscribers that need the full picture re-read snapshots.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]chan StateChange
	nextID uint64
	logger *slog.Logger
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[uint64]chan StateChange),
		logger: logger.With(slog.String("component", "bfd.notifier")),
	}
}

// Subscribe registers a new subscriber with the given channel capacity.
// The returned cancel function unsubscribes and closes the channel; it is
// safe to call more than once.
func (n *Notifier) Subscribe(buffer int) (<-chan StateChange, func()) {
	ch := make(chan StateChange, buffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers sc to every subscriber without blocking.
func (n *Notifier) Publish(sc StateChange) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- sc:
		default:
			n.logger.Warn("subscriber channel full, dropping state change",
				slog.Uint64("subscriber", id),
				slog.Uint64("local_discr", uint64(sc.LocalDiscr)),
			)
		}
	}
}

// Subscribers returns the current number of subscribers.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
