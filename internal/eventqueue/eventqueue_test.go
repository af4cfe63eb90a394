package eventqueue

import (
	"testing"
	"time"
)

func TestPutAssignsMonotonicSeq(t *testing.T) {
	q := New(10)
	e1 := q.Put("stopped", nil)
	e2 := q.Put("continued", nil)
	if e2.Seq <= e1.Seq {
		t.Fatalf("expected strictly increasing seq, got %d then %d", e1.Seq, e2.Seq)
	}
}

func TestPollReturnsEventsAfterCursor(t *testing.T) {
	q := New(10)
	q.Put("stopped", "a")
	e2 := q.Put("continued", "b")
	q.Put("output", "c")

	poll := q.Poll(e2.Seq-1, 10, 0)
	if len(poll.Events) != 2 {
		t.Fatalf("expected 2 events after cursor %d, got %d", e2.Seq-1, len(poll.Events))
	}
}

func TestPollLimitsBatchSize(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		q.Put("output", i)
	}
	poll := q.Poll(0, 2, 0)
	if len(poll.Events) != 2 {
		t.Fatalf("expected limit=2 events, got %d", len(poll.Events))
	}
	if !poll.HasMore {
		t.Fatal("expected has_more=true")
	}
}

func TestOldestDroppedOnOverflow(t *testing.T) {
	q := New(3)
	for i := 0; i < 5; i++ {
		q.Put("output", i)
	}
	poll := q.Poll(0, 10, 0)
	if len(poll.Events) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(poll.Events))
	}
	if poll.Events[0].Seq != 3 {
		t.Fatalf("expected oldest retained seq to be 3, got %d", poll.Events[0].Seq)
	}
}

func TestCursorOlderThanHistoryIsSkipped(t *testing.T) {
	q := New(2)
	for i := 0; i < 5; i++ {
		q.Put("output", i)
	}
	poll := q.Poll(1, 10, 0)
	if !poll.NextCursor.CursorSkipped {
		t.Fatal("expected cursor_skipped=true for a cursor older than retained history")
	}
}

func TestPollBlocksUntilEventOrTimeout(t *testing.T) {
	q := New(10)
	start := time.Now()
	poll := q.Poll(0, 10, 50*time.Millisecond)
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("expected Poll to wait close to the timeout when no events arrive")
	}
	if len(poll.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(poll.Events))
	}
}

func TestPollWakesOnNewEvent(t *testing.T) {
	q := New(10)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put("stopped", nil)
	}()

	start := time.Now()
	poll := q.Poll(0, 10, time.Second)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("expected Poll to return promptly once an event is put")
	}
	if len(poll.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(poll.Events))
	}
}
