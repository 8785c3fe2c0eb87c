package relay

// Kind classifies one unit of streamed producer output.
type Kind string

const (
	KindContent   Kind = "content"
	KindReasoning Kind = "reasoning"
	KindDone      Kind = "done"
	KindError     Kind = "error"
)

// Terminal reports whether the kind closes a job's event history.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Event is one ordered, immutable unit of producer output. Sequence numbers
// are assigned by the event log at append time, start at 0 and never repeat
// within a job.
type Event struct {
	JobID    string `json:"job_id"`
	Sequence int64  `json:"sequence"`
	Kind     Kind   `json:"kind"`
	Payload  string `json:"payload,omitempty"`
}
