// Package jobqueue runs generation jobs on a fixed worker pool, detached
// from the HTTP connections that submit them. A submitted job keeps running
// whether or not any client is still attached to its stream.
package jobqueue

import (
	"context"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Job is one unit of background work: generate a reply for a prompt and
// stream it under the minted job ID.
type Job struct {
	ID             string
	ConversationID int64
	MessageID      int64
	Prompt         string
	Profile        string
}

// RunFunc executes one job to completion. The context is the queue's own
// lifetime, not any HTTP request's.
type RunFunc func(ctx context.Context, job Job)

// Queue is a bounded in-process job queue with a fixed worker pool.
type Queue struct {
	jobs   chan Job
	run    RunFunc
	logger *log.Logger

	// onSubmit runs synchronously inside Submit, before the job is
	// enqueued. The daemon uses it to register the job with the event log
	// and registry so consumers attaching immediately after Submit never
	// see an unknown job.
	onSubmit func(Job)

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Options configures a queue.
type Options struct {
	Workers  int
	Depth    int
	OnSubmit func(Job)
}

// New starts a queue with the given worker pool.
func New(run RunFunc, opts Options, logger *log.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Depth <= 0 {
		opts.Depth = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:     make(chan Job, opts.Depth),
		run:      run,
		logger:   logger,
		onSubmit: opts.OnSubmit,
		ctx:      ctx,
		cancel:   cancel,
		group:    &errgroup.Group{},
	}
	for i := 0; i < opts.Workers; i++ {
		q.group.Go(q.worker)
	}
	return q
}

// Submit mints a job ID if the job has none, registers the job and
// enqueues it. It returns the job ID without waiting for the run.
func (q *Queue) Submit(job Job) string {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if q.onSubmit != nil {
		q.onSubmit(job)
	}
	q.jobs <- job
	return job.ID
}

func (q *Queue) worker() error {
	for job := range q.jobs {
		q.logger.Printf("[jobqueue] job %s: starting (conversation=%d message=%d)", job.ID, job.ConversationID, job.MessageID)
		q.run(q.ctx, job)
	}
	return nil
}

// Close drains queued jobs, waits for running ones and releases the pool.
func (q *Queue) Close() error {
	close(q.jobs)
	err := q.group.Wait()
	q.cancel()
	return err
}
