// Package stream carries pipeline progress events to clients.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

type EventType string

const (
	TypeStage     EventType = "stage"
	TypeHeartbeat EventType = "heartbeat"
	TypeResult    EventType = "result"
	TypeError     EventType = "error"
)

type Status string

const (
	StatusStarted  Status = "started"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// Event is one entry of a run's ordered log. Seq is assigned by the
// orchestrator and increases by one per event of a run.
type Event struct {
	Seq       int64           `json:"seq"`
	TraceID   string          `json:"trace_id"`
	Type      EventType       `json:"type"`
	Stage     string          `json:"stage,omitempty"`
	Status    Status          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Type == TypeResult || e.Type == TypeError
}

// Emitter receives events. Implementations must not block the caller for
// long; slow sinks belong behind an Async emitter.
type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

type fanout []Emitter

func (f fanout) Emit(e Event) {
	for _, em := range f {
		em.Emit(e)
	}
}

// Fanout emits to every non-nil emitter in order.
func Fanout(emitters ...Emitter) Emitter {
	var out fanout
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
