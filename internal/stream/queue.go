package stream

import (
	"context"
	"sync"
)

const DefaultQueueSize = 100

// Queue is a bounded, non-blocking Emitter. When full it drops the oldest
// heartbeat, or failing that the oldest non-terminal event. Terminal events
// are never dropped.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	size    int
	closed  bool
	dropped int64
	onDrop  func(Event)
	ready   chan struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{size: size, ready: make(chan struct{}, 1)}
}

// OnDrop registers fn to be called, outside the lock, for each dropped event.
func (q *Queue) OnDrop(fn func(Event)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

func (q *Queue) Emit(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var victim *Event
	if len(q.buf) >= q.size {
		if i := q.dropIndex(); i >= 0 {
			v := q.buf[i]
			victim = &v
			q.buf = append(q.buf[:i], q.buf[i+1:]...)
			q.dropped++
		}
	}
	q.buf = append(q.buf, e)
	hook := q.onDrop
	q.mu.Unlock()

	q.signal()
	if victim != nil && hook != nil {
		hook(*victim)
	}
}

func (q *Queue) dropIndex() int {
	for i, e := range q.buf {
		if e.Type == TypeHeartbeat {
			return i
		}
	}
	for i, e := range q.buf {
		if !e.Terminal() {
			return i
		}
	}
	return -1
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Close stops accepting events. Buffered events can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Next blocks until an event is available. It returns false once the queue
// is closed and drained, or when ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			e := q.buf[0]
			q.buf = q.buf[1:]
			more := len(q.buf) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.signal()
			return Event{}, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Async forwards events to a slow sink from a background goroutine through a
// Queue.
type Async struct {
	q    *Queue
	done chan struct{}
}

func NewAsync(sink Emitter, size int) *Async {
	a := &Async{q: NewQueue(size), done: make(chan struct{})}
	go func() {
		defer close(a.done)
		for {
			e, ok := a.q.Next(context.Background())
			if !ok {
				return
			}
			sink.Emit(e)
		}
	}()
	return a
}

func (a *Async) Emit(e Event) { a.q.Emit(e) }

func (a *Async) Queue() *Queue { return a.q }

// Close flushes buffered events to the sink and waits, bounded by ctx.
func (a *Async) Close(ctx context.Context) error {
	a.q.Close()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
