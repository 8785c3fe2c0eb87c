package relay

import (
	"context"
	"errors"
)

// ErrJobUnknown is returned when a job has never been registered with the
// event log, or its history has already been purged by TTL. It is distinct
// from a registered job that simply has no events yet, which reads as an
// empty range.
var ErrJobUnknown = errors.New("relay: job unknown")

// EventLog is the append-only, per-job ordered event store behind the relay.
// Implementations must serialize concurrent appends for the same job into a
// single total order and make every append visible to readers once Append
// has returned.
type EventLog interface {
	// Touch registers a job with the log before its first event, so that
	// consumers attaching between submission and the first append observe
	// an empty-but-alive job rather than ErrJobUnknown. Touching an
	// existing job only refreshes its TTL.
	Touch(ctx context.Context, jobID string) error

	// Append assigns the next sequence number for the job (starting at 0),
	// stores the event and refreshes the job's TTL.
	Append(ctx context.Context, jobID string, kind Kind, payload string) (int64, error)

	// ReadRange returns all stored events with sequence > afterSeq in
	// ascending order. Pass -1 to read from the beginning.
	ReadRange(ctx context.Context, jobID string, afterSeq int64) ([]Event, error)

	// Exists reports whether the job is currently known to the log.
	Exists(ctx context.Context, jobID string) (bool, error)
}
