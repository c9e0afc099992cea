package synth

import (
	"context"
	"sync"
)

// Queue is the strict-FIFO speech queue. Agent texts are spoken in
// generation order, one at a time, even when generated faster than they can
// be played.
type Queue struct {
	speak   func(ctx context.Context, text string) error
	onStart func(text string)
	onDone  func(text string, err error)
	onIdle  func()

	mu       sync.Mutex
	ctx      context.Context
	items    []string
	draining bool
}

// NewQueue creates a queue that drains into speak. onStart and onDone are
// optional per-item hooks invoked from the drain goroutine; onIdle fires
// once per drain, after the last item's onDone, when the queue has emptied.
// Between consecutive items it never fires, so callers can distinguish "one
// line of several finished" from "the agent is done talking" without
// polling Len.
func NewQueue(speak func(ctx context.Context, text string) error, onStart func(string), onDone func(string, error), onIdle func()) *Queue {
	return &Queue{
		speak:   speak,
		onStart: onStart,
		onDone:  onDone,
		onIdle:  onIdle,
		ctx:     context.Background(),
	}
}

// Bind sets the context used for subsequent drains, typically the session
// context so session end cancels in-flight playback.
func (q *Queue) Bind(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()
}

// Enqueue appends a text and starts the drain loop if idle.
func (q *Queue) Enqueue(text string) {
	if text == "" {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, text)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	ctx := q.ctx
	q.mu.Unlock()

	go q.drain(ctx)
}

// Clear drops all pending texts. The item currently being spoken, if any,
// is not interrupted here; cancel the bound context for that.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len returns the number of pending texts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether the queue is empty with no drain running. An onIdle
// callback that observes Idle() == false has been overtaken by a new
// enqueue and should stand down.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.items) == 0
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			if q.onIdle != nil {
				q.onIdle()
			}
			return
		}
		text := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if q.onStart != nil {
			q.onStart(text)
		}
		err := q.speak(ctx, text)
		if q.onDone != nil {
			q.onDone(text, err)
		}
	}
}
