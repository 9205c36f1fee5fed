// Package pipeline sequences the verification stages, forks the two
// verification branches and streams every transition as an event.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/logger"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/metrics"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
)

var tracer = otel.Tracer("olala/pipeline")

const (
	DefaultStageTimeout      = 30 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

type Config struct {
	StageTimeout  time.Duration
	StageTimeouts map[StageName]time.Duration
	// HeartbeatInterval <= 0 disables heartbeats.
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{StageTimeout: DefaultStageTimeout, HeartbeatInterval: DefaultHeartbeatInterval}
}

func (c Config) timeout(name StageName) time.Duration {
	if d, ok := c.StageTimeouts[name]; ok && d > 0 {
		return d
	}
	if c.StageTimeout > 0 {
		return c.StageTimeout
	}
	return DefaultStageTimeout
}

type Orchestrator struct {
	stages *Registry
	cfg    Config
}

func NewOrchestrator(stages *Registry, cfg Config) (*Orchestrator, error) {
	if err := stages.Complete(); err != nil {
		return nil, err
	}
	return &Orchestrator{stages: stages, cfg: cfg}, nil
}

// Run is the record of one pipeline execution.
type Run struct {
	TraceID  string         `json:"trace_id"`
	State    State          `json:"-"`
	Events   []stream.Event `json:"events"`
	Result   *Verdict       `json:"result,omitempty"`
	Err      *StageError    `json:"-"`
	Notices  []Notice       `json:"notices,omitempty"`
	Duration time.Duration  `json:"-"`
}

// eventLog numbers events and forwards them to the emitter in log order.
type eventLog struct {
	mu      sync.Mutex
	traceID string
	seq     int64
	events  []stream.Event
	emitter stream.Emitter
}

func (l *eventLog) emit(e stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	e.TraceID = l.traceID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, e)
	l.emitter.Emit(e)
}

func (l *eventLog) snapshot() []stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.Event(nil), l.events...)
}

// Run executes the whole pipeline for req. It always returns a Run whose
// last event is terminal and carries the trace id.
func (o *Orchestrator) Run(ctx context.Context, req Request, emitter stream.Emitter) *Run {
	if emitter == nil {
		emitter = stream.Discard
	}
	traceID := req.TraceID
	if traceID == "" {
		if id, ok := middleware.TraceIDFrom(ctx); ok {
			traceID = id
		} else {
			traceID = middleware.NewTraceID()
		}
	}
	req.TraceID = traceID
	ctx = middleware.WithTraceID(ctx, traceID)

	log := &eventLog{traceID: traceID, emitter: emitter}
	run := &Run{TraceID: traceID}
	start := time.Now()
	defer func() { run.Duration = time.Since(start) }()

	slog.InfoContext(ctx, "pipeline started")

	if err := req.Validate(); err != nil {
		return o.fail(ctx, run, log, State{Request: req}, &StageError{Kind: KindInvalidInput, Err: err})
	}

	state := State{Request: req}
	var serr *StageError
	for _, name := range Order {
		switch name {
		case StageSupportVerification:
			state, serr = o.fork(ctx, log, state)
		case StageSkepticVerification:
			continue
		default:
			state, serr = o.step(ctx, log, name, state)
		}
		if serr != nil {
			return o.fail(ctx, run, log, state, serr)
		}
	}

	if state.Final == nil {
		return o.fail(ctx, run, log, state, &StageError{Stage: StagePolicy, Kind: KindStageFailed, Err: ErrNoVerdict})
	}

	run.State = state
	run.Result = state.Final
	run.Notices = state.Notices
	payload, _ := json.Marshal(state.Final)
	log.emit(stream.Event{Type: stream.TypeResult, Status: stream.StatusComplete, Payload: payload})
	run.Events = log.snapshot()

	metrics.RunFinished("success")
	slog.InfoContext(ctx, "pipeline finished", "label", state.Final.Label, "notices", len(state.Notices), "duration", time.Since(start))
	return run
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, log *eventLog, state State, serr *StageError) *Run {
	run.State = state
	run.Err = serr
	run.Notices = state.Notices
	log.emit(stream.Event{
		Type:   stream.TypeError,
		Stage:  string(serr.Stage),
		Status: stream.StatusError,
		Error:  &stream.ErrorInfo{Kind: string(serr.Kind), Message: serr.Error(), Stage: string(serr.Stage)},
	})
	run.Events = log.snapshot()

	metrics.RunFinished(string(serr.Kind))
	slog.ErrorContext(ctx, "pipeline failed", "kind", serr.Kind, "failed_stage", serr.Stage, "error", serr.Err)
	return run
}

func (o *Orchestrator) step(ctx context.Context, log *eventLog, name StageName, state State) (State, *StageError) {
	delta, serr := o.runStage(ctx, log, name, state)
	if serr != nil {
		return state, serr
	}
	next, err := state.Merge(name, delta)
	if err != nil {
		return state, &StageError{Stage: name, Kind: KindStageCrash, Err: err}
	}
	return next, nil
}

// fork runs both verification branches against one snapshot and waits for
// both. A single failed branch degrades the run; two failures end it.
func (o *Orchestrator) fork(ctx context.Context, log *eventLog, state State) (State, *StageError) {
	snapshot := state.Before(StageSupportVerification)
	deltas := make([]State, len(Branches))
	errs := make([]*StageError, len(Branches))

	var wg sync.WaitGroup
	for i, name := range Branches {
		wg.Go(func() {
			deltas[i], errs[i] = o.runStage(ctx, log, name, snapshot)
		})
	}
	wg.Wait()

	var failed []*StageError
	for i, name := range Branches {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		next, err := state.Merge(name, deltas[i])
		if err != nil {
			return state, &StageError{Stage: name, Kind: KindStageCrash, Err: err}
		}
		state = next
	}

	switch {
	case len(failed) == len(Branches):
		return state, failed[0]
	case len(failed) == 1 && failed[0].Kind == KindCanceled:
		return state, failed[0]
	case len(failed) == 1:
		f := failed[0]
		slog.WarnContext(ctx, "verification branch failed, continuing with one branch", "branch", f.Stage, "kind", f.Kind, "error", f.Err)
		state.Notices = append(state.Notices[:len(state.Notices):len(state.Notices)], Notice{
			Kind:    KindBranchPartialFailure,
			Stage:   f.Stage,
			Message: fmt.Sprintf("%s: %v", f.Kind, f.Err),
		})
	}
	return state, nil
}

type outcome struct {
	delta State
	err   error
}

func (o *Orchestrator) runStage(ctx context.Context, log *eventLog, name StageName, state State) (State, *StageError) {
	stage, ok := o.stages.Get(name)
	if !ok {
		return State{}, &StageError{Stage: name, Kind: KindStageCrash, Err: ErrUnknownStage}
	}

	ctx = logger.WithStage(ctx, string(name))
	ctx, span := tracer.Start(ctx, "pipeline."+string(name))
	defer span.End()
	span.SetAttributes(attribute.String("trace_id", log.traceID))

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.timeout(name))
	defer cancel()

	log.emit(stream.Event{Type: stream.TypeStage, Stage: string(name), Status: stream.StatusStarted})
	start := time.Now()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &StageError{Stage: name, Kind: KindStageCrash, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		delta, err := stage.Run(stageCtx, state.Before(name))
		done <- outcome{delta: delta, err: err}
	}()

	var heartbeat <-chan time.Time
	if o.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(o.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	var out outcome
wait:
	for {
		select {
		case out = <-done:
			break wait
		case <-heartbeat:
			log.emit(stream.Event{Type: stream.TypeHeartbeat, Stage: string(name)})
		case <-stageCtx.Done():
			// the stage may still be running; its result is discarded
			out = outcome{err: stageCtx.Err()}
			break wait
		}
	}

	elapsed := time.Since(start)
	if out.err != nil {
		serr := classify(name, out.err, ctx, stageCtx)
		span.RecordError(serr)
		span.SetStatus(codes.Error, string(serr.Kind))
		metrics.ObserveStage(string(name), string(stream.StatusError), elapsed)
		log.emit(stream.Event{
			Type:   stream.TypeStage,
			Stage:  string(name),
			Status: stream.StatusError,
			Error:  &stream.ErrorInfo{Kind: string(serr.Kind), Message: serr.Err.Error(), Stage: string(name)},
		})
		slog.WarnContext(ctx, "stage failed", "kind", serr.Kind, "duration", elapsed, "error", serr.Err)
		return State{}, serr
	}

	metrics.ObserveStage(string(name), string(stream.StatusComplete), elapsed)
	log.emit(stream.Event{
		Type:    stream.TypeStage,
		Stage:   string(name),
		Status:  stream.StatusComplete,
		Payload: stagePayload(out.delta.Output(name), state.Request.Options.IncludeFullOutputs),
	})
	slog.InfoContext(ctx, "stage complete", "duration", elapsed)
	return out.delta, nil
}

func stagePayload(output any, full bool) json.RawMessage {
	if output == nil {
		return nil
	}
	var v any = output
	if s, ok := output.(summarizer); ok && !full {
		v = s.EventSummary()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
