// Package eventqueue implements a bounded FIFO of typed debug events with
// a monotonic sequence number and cursor-based long-poll semantics.
package eventqueue

import (
	"sync"
	"time"
)

// Event is one debug event with a monotonic seq and a type-tagged body.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Body      any       `json:"body"`
}

// Cursor opaquely encodes the last delivered seq, plus whether history
// had to skip ahead of the client's requested position.
type Cursor struct {
	Seq           int64 `json:"seq"`
	CursorSkipped bool  `json:"cursor_skipped,omitempty"`
}

// Poll is the result of a (possibly blocking) poll call.
type Poll struct {
	Events     []Event `json:"events"`
	NextCursor Cursor  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// Queue is a thread-safe, size-bounded event FIFO. One producer (the
// session's event reader) calls Put; any number of pollers call Poll
// concurrently.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	maxSize int
	events  []Event
	counter int64
	closed  bool
}

// New creates a Queue retaining at most maxSize events.
func New(maxSize int) *Queue {
	q := &Queue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put stamps seq and timestamp, appends the event, and evicts the oldest
// entry if the queue is already at capacity (newest-wins).
func (q *Queue) Put(eventType string, body any) Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	ev := Event{Seq: q.counter, Type: eventType, Timestamp: time.Now().UTC(), Body: body}
	q.events = append(q.events, ev)
	if len(q.events) > q.maxSize {
		q.events = q.events[1:]
	}
	q.cond.Broadcast()
	return ev
}

// Poll returns events with seq strictly greater than cursor, up to limit
// of them. If none are available and waitTimeout > 0, it blocks until an
// event arrives or the timeout elapses, then returns whatever is
// available (possibly nothing).
func (q *Queue) Poll(cursor int64, limit int, waitTimeout time.Duration) Poll {
	q.mu.Lock()
	defer q.mu.Unlock()

	if waitTimeout > 0 {
		deadline := time.Now().Add(waitTimeout)
		for !q.hasNewLocked(cursor) && !q.closed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			q.waitWithTimeout(remaining)
		}
	}

	return q.pollLocked(cursor, limit)
}

func (q *Queue) hasNewLocked(cursor int64) bool {
	for _, e := range q.events {
		if e.Seq > cursor {
			return true
		}
	}
	return false
}

// waitWithTimeout blocks on cond for at most d, re-acquiring q.mu before
// returning (sync.Cond.Wait's usual contract). Implemented with a helper
// goroutine since sync.Cond has no native timed wait.
func (q *Queue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

func (q *Queue) pollLocked(cursor int64, limit int) Poll {
	var oldestRetained int64
	if len(q.events) > 0 {
		oldestRetained = q.events[0].Seq
	}

	cursorSkipped := cursor > 0 && cursor < oldestRetained-1
	effectiveCursor := cursor
	if cursorSkipped {
		effectiveCursor = oldestRetained - 1
	}

	var result []Event
	for _, e := range q.events {
		if e.Seq > effectiveCursor {
			result = append(result, e)
			if len(result) == limit {
				break
			}
		}
	}

	nextSeq := effectiveCursor
	if len(result) > 0 {
		nextSeq = result[len(result)-1].Seq
	}
	hasMore := false
	for _, e := range q.events {
		if e.Seq > nextSeq {
			hasMore = true
			break
		}
	}

	return Poll{
		Events:     result,
		NextCursor: Cursor{Seq: nextSeq, CursorSkipped: cursorSkipped},
		HasMore:    hasMore,
	}
}

// Clear drops every retained event. The seq counter is not reset;
// seq remains strictly monotonic for the lifetime of the session.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// Close wakes any blocked pollers without delivering new events, used
// during session teardown so in-flight long-polls return promptly.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
