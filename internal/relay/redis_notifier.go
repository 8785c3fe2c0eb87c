package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier implements Notifier on Redis pub/sub, one channel per job.
// Redis fan-out already gives every subscriber its own delivery, so a waiter
// maps directly onto one PubSub subscription.
type RedisNotifier struct {
	rdb    redis.UniversalClient
	logger *log.Logger
}

// NewRedisNotifier creates a pub/sub backed notifier. The logger is optional.
func NewRedisNotifier(rdb redis.UniversalClient, logger *log.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger}
}

func jobChannel(jobID string) string {
	return streamKeyPrefix + jobID
}

// Publish broadcasts the event to all current subscribers. A publish with no
// subscribers is not an error; late consumers recover from the event log.
func (n *RedisNotifier) Publish(ctx context.Context, jobID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		if n.logger != nil {
			n.logger.Printf("relay: notify job %s: marshal: %v", jobID, err)
		}
		return
	}
	if err := n.rdb.Publish(ctx, jobChannel(jobID), data).Err(); err != nil {
		if n.logger != nil {
			n.logger.Printf("relay: notify job %s: publish: %v", jobID, err)
		}
	}
}

// Subscribe opens a dedicated pub/sub subscription for the waiter.
func (n *RedisNotifier) Subscribe(jobID string) (Waiter, error) {
	ps := n.rdb.Subscribe(context.Background(), jobChannel(jobID))
	// Force the subscription onto the wire before the caller replays the
	// log, so no publish can slip between replay and live delivery.
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &redisWaiter{ps: ps, ch: ps.Channel()}, nil
}

type redisWaiter struct {
	ps   *redis.PubSub
	ch   <-chan *redis.Message
	once sync.Once
}

func (w *redisWaiter) Wait(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-w.ch:
		if !ok {
			return Event{}, false
		}
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			// Malformed wake-up still means new data exists.
			return Event{}, true
		}
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (w *redisWaiter) Close() {
	w.once.Do(func() { _ = w.ps.Close() })
}
