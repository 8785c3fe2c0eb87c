package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix = "relay:stream:"
	eventsKeySuffix = ":events"
)

// RedisLog implements EventLog on top of a Redis list per job, with the
// job's TTL refreshed on every append. A separate marker key keeps a job
// visible between submission and its first event.
type RedisLog struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// redisEvent is the stored shape of one list entry. Sequence is implied by
// list position and filled in on read.
type redisEvent struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// NewRedisLog creates a Redis-backed event log.
func NewRedisLog(rdb redis.UniversalClient, ttl time.Duration) *RedisLog {
	return &RedisLog{rdb: rdb, ttl: ttl}
}

func jobMarkerKey(jobID string) string {
	return streamKeyPrefix + jobID
}

func jobEventsKey(jobID string) string {
	return streamKeyPrefix + jobID + eventsKeySuffix
}

// Touch registers the job via its marker key, or refreshes the TTL.
func (l *RedisLog) Touch(ctx context.Context, jobID string) error {
	if err := l.rdb.Set(ctx, jobMarkerKey(jobID), "1", l.ttl).Err(); err != nil {
		return fmt.Errorf("relay: touch job %s: %w", jobID, err)
	}
	return nil
}

// Append pushes the event onto the job's list and refreshes both TTLs. The
// RPUSH return value yields the new list length, which makes sequence
// assignment atomic with the store.
func (l *RedisLog) Append(ctx context.Context, jobID string, kind Kind, payload string) (int64, error) {
	data, err := json.Marshal(redisEvent{Kind: kind, Payload: payload})
	if err != nil {
		return 0, fmt.Errorf("relay: marshal event: %w", err)
	}

	var pushed *redis.IntCmd
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pushed = pipe.RPush(ctx, jobEventsKey(jobID), data)
		pipe.Expire(ctx, jobEventsKey(jobID), l.ttl)
		pipe.Set(ctx, jobMarkerKey(jobID), "1", l.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("relay: append to job %s: %w", jobID, err)
	}
	return pushed.Val() - 1, nil
}

// ReadRange returns all events with sequence > afterSeq in ascending order.
func (l *RedisLog) ReadRange(ctx context.Context, jobID string, afterSeq int64) ([]Event, error) {
	start := afterSeq + 1
	if start < 0 {
		start = 0
	}
	raw, err := l.rdb.LRange(ctx, jobEventsKey(jobID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay: read job %s: %w", jobID, err)
	}
	if len(raw) == 0 {
		known, err := l.Exists(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, ErrJobUnknown
		}
		return nil, nil
	}

	events := make([]Event, 0, len(raw))
	for i, item := range raw {
		var stored redisEvent
		if err := json.Unmarshal([]byte(item), &stored); err != nil {
			return nil, fmt.Errorf("relay: decode event %d of job %s: %w", start+int64(i), jobID, err)
		}
		events = append(events, Event{
			JobID:    jobID,
			Sequence: start + int64(i),
			Kind:     stored.Kind,
			Payload:  stored.Payload,
		})
	}
	return events, nil
}

// Exists reports whether the job's history or marker key is present.
func (l *RedisLog) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, jobEventsKey(jobID), jobMarkerKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("relay: check job %s: %w", jobID, err)
	}
	return n > 0, nil
}
