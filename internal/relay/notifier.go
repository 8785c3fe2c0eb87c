package relay

import (
	"context"
	"sync"
	"time"
)

// Notifier broadcasts best-effort wake-ups to every waiter attached to a
// job. Delivery is not guaranteed: a waiter that is not listening at publish
// time, or whose buffer is full, simply misses the signal. Consumers must
// treat notifications as a latency optimization and always fall back to
// reading the event log.
type Notifier interface {
	// Publish wakes every waiter currently subscribed to the job.
	Publish(ctx context.Context, jobID string, ev Event)

	// Subscribe attaches a new private waiter to the job. The caller owns
	// the waiter and must Close it when done.
	Subscribe(jobID string) (Waiter, error)
}

// Waiter receives wake-ups for a single job on behalf of one consumer.
type Waiter interface {
	// Wait blocks until a notification arrives, the timeout elapses or the
	// context is done. The second return value is false on timeout or
	// cancellation.
	Wait(ctx context.Context, timeout time.Duration) (Event, bool)

	// Close detaches the waiter.
	Close()
}

// waiterBuffer bounds how many pending wake-ups a slow waiter can hold
// before further publishes are dropped for it.
const waiterBuffer = 16

// MemoryNotifier implements Notifier with per-job waiter sets in process
// memory.
type MemoryNotifier struct {
	mu      sync.RWMutex
	waiters map[string]map[*memoryWaiter]struct{}
}

// NewMemoryNotifier creates an in-process notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{waiters: make(map[string]map[*memoryWaiter]struct{})}
}

type memoryWaiter struct {
	notifier *MemoryNotifier
	jobID    string
	ch       chan Event
	once     sync.Once
}

// Publish delivers the event to every attached waiter without blocking.
func (n *MemoryNotifier) Publish(ctx context.Context, jobID string, ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for w := range n.waiters[jobID] {
		select {
		case w.ch <- ev:
		default:
			// Waiter buffer full; it will catch up from the event log.
		}
	}
}

// Subscribe attaches a new waiter with its own buffered signal channel.
func (n *MemoryNotifier) Subscribe(jobID string) (Waiter, error) {
	w := &memoryWaiter{
		notifier: n,
		jobID:    jobID,
		ch:       make(chan Event, waiterBuffer),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.waiters[jobID]
	if !ok {
		set = make(map[*memoryWaiter]struct{})
		n.waiters[jobID] = set
	}
	set[w] = struct{}{}
	return w, nil
}

func (w *memoryWaiter) Wait(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-w.ch:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (w *memoryWaiter) Close() {
	w.once.Do(func() {
		n := w.notifier
		n.mu.Lock()
		defer n.mu.Unlock()
		if set, ok := n.waiters[w.jobID]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(n.waiters, w.jobID)
			}
		}
	})
}
