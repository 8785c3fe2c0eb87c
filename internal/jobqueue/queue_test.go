package jobqueue

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"
)

func TestQueue_RunsSubmittedJobs(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[string]Job)
	done := make(chan struct{}, 8)

	q := New(func(ctx context.Context, job Job) {
		mu.Lock()
		ran[job.ID] = job
		mu.Unlock()
		done <- struct{}{}
	}, Options{Workers: 2, Depth: 8}, log.New(log.Writer(), "", 0))

	id := q.Submit(Job{ConversationID: 7, MessageID: 9, Prompt: "hello"})
	if id == "" {
		t.Fatal("submit returned empty job ID")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	job, ok := ran[id]
	if !ok {
		t.Fatalf("job %s not recorded", id)
	}
	if job.ConversationID != 7 || job.MessageID != 9 || job.Prompt != "hello" {
		t.Fatalf("job = %+v", job)
	}
}

func TestQueue_PreservesExplicitJobID(t *testing.T) {
	q := New(func(ctx context.Context, job Job) {}, Options{Workers: 1}, log.New(log.Writer(), "", 0))
	defer q.Close()

	if id := q.Submit(Job{ID: "fixed-id", Prompt: "x"}); id != "fixed-id" {
		t.Fatalf("submit returned %q", id)
	}
}

func TestQueue_OnSubmitRunsBeforeSubmitReturns(t *testing.T) {
	started := make(chan struct{})
	var submitted Job
	var onSubmitDone bool
	var mu sync.Mutex

	q := New(func(ctx context.Context, job Job) {
		<-started
	}, Options{
		Workers: 1,
		OnSubmit: func(job Job) {
			mu.Lock()
			submitted = job
			onSubmitDone = true
			mu.Unlock()
		},
	}, log.New(log.Writer(), "", 0))

	id := q.Submit(Job{Prompt: "x"})

	mu.Lock()
	if !onSubmitDone {
		mu.Unlock()
		t.Fatal("OnSubmit had not run when Submit returned")
	}
	if submitted.ID != id {
		mu.Unlock()
		t.Fatalf("OnSubmit saw job ID %q, Submit returned %q", submitted.ID, id)
	}
	mu.Unlock()

	close(started)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestQueue_CloseDrainsQueuedJobs(t *testing.T) {
	var mu sync.Mutex
	count := 0

	q := New(func(ctx context.Context, job Job) {
		mu.Lock()
		count++
		mu.Unlock()
	}, Options{Workers: 1, Depth: 16}, log.New(log.Writer(), "", 0))

	for i := 0; i < 10; i++ {
		q.Submit(Job{Prompt: "x"})
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Fatalf("ran %d jobs after close, want 10", count)
	}
}
