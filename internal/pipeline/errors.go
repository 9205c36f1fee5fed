package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies run outcomes and notices.
type Kind string

const (
	KindRetrievalMiss        Kind = "RetrievalMiss"
	KindPartialCoverage      Kind = "PartialCoverage"
	KindEmbeddingCapReached  Kind = "EmbeddingCapReached"
	KindStageTimeout         Kind = "StageTimeout"
	KindStageCrash           Kind = "StageCrash"
	KindStageFailed          Kind = "StageFailed"
	KindBranchPartialFailure Kind = "BranchPartialFailure"
	KindCanceled             Kind = "Canceled"
	KindInvalidInput         Kind = "InvalidInput"
)

// Fatal reports whether k terminates a run.
func (k Kind) Fatal() bool {
	switch k {
	case KindStageTimeout, KindStageCrash, KindStageFailed, KindCanceled, KindInvalidInput:
		return true
	}
	return false
}

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrForeignWrite   = errors.New("stage wrote a field it does not own")
	ErrOverwrite      = errors.New("stage output already written")
	ErrUnknownStage   = errors.New("unknown stage")
	ErrDuplicateStage = errors.New("stage already registered")
	ErrNoVerdict      = errors.New("pipeline produced no verdict")
)

// StageError is the fatal error of a run.
type StageError struct {
	Stage StageName
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf classifies err. Unclassified errors are StageFailed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindStageTimeout
	}
	return KindStageFailed
}

// classify turns whatever a stage returned into a StageError. parent is the
// run context; stageCtx carries the stage deadline.
func classify(name StageName, err error, parent, stageCtx context.Context) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se = &StageError{Stage: name, Kind: se.Kind, Err: se.Err}
		}
		return se
	}
	switch {
	case parent.Err() != nil:
		return &StageError{Stage: name, Kind: KindCanceled, Err: err}
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return &StageError{Stage: name, Kind: KindStageTimeout, Err: err}
	}
	return &StageError{Stage: name, Kind: KindStageFailed, Err: err}
}
