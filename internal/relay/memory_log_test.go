package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLog_AppendAssignsSequences(t *testing.T) {
	l := NewMemoryLogWithJanitor(time.Hour, 0)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seq, err := l.Append(ctx, "job-1", KindContent, "chunk")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != int64(i) {
			t.Fatalf("append %d: got seq %d", i, seq)
		}
	}

	// A second job starts from zero again.
	seq, err := l.Append(ctx, "job-2", KindContent, "other")
	if err != nil {
		t.Fatalf("append job-2: %v", err)
	}
	if seq != 0 {
		t.Fatalf("job-2 first seq = %d, want 0", seq)
	}
}

func TestMemoryLog_ReadRange(t *testing.T) {
	l := NewMemoryLogWithJanitor(time.Hour, 0)
	defer l.Close()
	ctx := context.Background()

	payloads := []string{"a", "b", "c", "d"}
	for _, p := range payloads {
		if _, err := l.Append(ctx, "job", KindContent, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := l.ReadRange(ctx, "job", -1)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("read all returned %d events", len(all))
	}
	for i, ev := range all {
		if ev.Sequence != int64(i) || ev.Payload != payloads[i] {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}

	tail, err := l.ReadRange(ctx, "job", 1)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if len(tail) != 2 || tail[0].Payload != "c" {
		t.Fatalf("read after 1 = %+v", tail)
	}

	none, err := l.ReadRange(ctx, "job", 3)
	if err != nil {
		t.Fatalf("read past end: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("read past end returned %d events", len(none))
	}
}

func TestMemoryLog_UnknownJob(t *testing.T) {
	l := NewMemoryLogWithJanitor(time.Hour, 0)
	defer l.Close()
	ctx := context.Background()

	if _, err := l.ReadRange(ctx, "missing", -1); !errors.Is(err, ErrJobUnknown) {
		t.Fatalf("read missing job: got %v, want ErrJobUnknown", err)
	}
	known, err := l.Exists(ctx, "missing")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if known {
		t.Fatal("missing job reported as known")
	}
}

func TestMemoryLog_TouchMakesEmptyJobKnown(t *testing.T) {
	l := NewMemoryLogWithJanitor(time.Hour, 0)
	defer l.Close()
	ctx := context.Background()

	if err := l.Touch(ctx, "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	known, err := l.Exists(ctx, "job")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !known {
		t.Fatal("touched job should be known")
	}
	events, err := l.ReadRange(ctx, "job", -1)
	if err != nil {
		t.Fatalf("read touched job: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("touched job has %d events", len(events))
	}
}

func TestMemoryLog_PurgeExpired(t *testing.T) {
	l := NewMemoryLogWithJanitor(10*time.Millisecond, 0)
	defer l.Close()
	ctx := context.Background()

	if _, err := l.Append(ctx, "old", KindContent, "x"); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := l.Append(ctx, "fresh", KindContent, "y"); err != nil {
		t.Fatalf("append: %v", err)
	}

	l.purgeExpired()

	if _, err := l.ReadRange(ctx, "old", -1); !errors.Is(err, ErrJobUnknown) {
		t.Fatalf("expired job still readable: %v", err)
	}
	if _, err := l.ReadRange(ctx, "fresh", -1); err != nil {
		t.Fatalf("fresh job purged: %v", err)
	}
}
