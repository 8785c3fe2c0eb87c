package relay

import (
	"context"
	"sync"
	"time"
)

// MemoryLog implements EventLog in process memory. Suitable for
// single-instance deployments; for multi-instance deployments use RedisLog.
type MemoryLog struct {
	ttl time.Duration

	mu   sync.RWMutex
	jobs map[string]*jobHistory

	janitorInterval time.Duration
	stopJanitor     chan struct{}
	stopOnce        sync.Once
}

type jobHistory struct {
	events  []Event
	touched time.Time
}

// NewMemoryLog creates an in-memory event log whose per-job histories expire
// after ttl of append inactivity.
func NewMemoryLog(ttl time.Duration) *MemoryLog {
	return NewMemoryLogWithJanitor(ttl, time.Minute)
}

// NewMemoryLogWithJanitor creates an in-memory event log with a custom purge
// interval.
func NewMemoryLogWithJanitor(ttl, janitorInterval time.Duration) *MemoryLog {
	l := &MemoryLog{
		ttl:             ttl,
		jobs:            make(map[string]*jobHistory),
		janitorInterval: janitorInterval,
		stopJanitor:     make(chan struct{}),
	}
	go l.janitorLoop()
	return l
}

// Touch registers the job with an empty history, or refreshes its TTL.
func (l *MemoryLog) Touch(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.jobs[jobID]; ok {
		h.touched = time.Now()
		return nil
	}
	l.jobs[jobID] = &jobHistory{touched: time.Now()}
	return nil
}

// Append stores the event under the next sequence number for the job.
func (l *MemoryLog) Append(ctx context.Context, jobID string, kind Kind, payload string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.jobs[jobID]
	if !ok {
		h = &jobHistory{}
		l.jobs[jobID] = h
	}
	seq := int64(len(h.events))
	h.events = append(h.events, Event{
		JobID:    jobID,
		Sequence: seq,
		Kind:     kind,
		Payload:  payload,
	})
	h.touched = time.Now()
	return seq, nil
}

// ReadRange returns all events with sequence > afterSeq in ascending order.
func (l *MemoryLog) ReadRange(ctx context.Context, jobID string, afterSeq int64) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.jobs[jobID]
	if !ok {
		return nil, ErrJobUnknown
	}
	start := afterSeq + 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(h.events)) {
		return nil, nil
	}
	out := make([]Event, int64(len(h.events))-start)
	copy(out, h.events[start:])
	return out, nil
}

// Exists reports whether the job is currently known.
func (l *MemoryLog) Exists(ctx context.Context, jobID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.jobs[jobID]
	return ok, nil
}

// Close stops the background purge loop.
func (l *MemoryLog) Close() error {
	l.stopOnce.Do(func() { close(l.stopJanitor) })
	return nil
}

func (l *MemoryLog) janitorLoop() {
	if l.janitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.purgeExpired()
		case <-l.stopJanitor:
			return
		}
	}
}

func (l *MemoryLog) purgeExpired() {
	if l.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for jobID, h := range l.jobs {
		if h.touched.Before(cutoff) {
			delete(l.jobs, jobID)
		}
	}
}
