package pipeline

import (
	"context"
	"fmt"
)

// Stage transforms the state visible to it into a delta holding only the
// fields it owns. Stages must not mutate the state they are given.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, s State) (State, error)
}

type stageFunc struct {
	name StageName
	fn   func(context.Context, State) (State, error)
}

func (s stageFunc) Name() StageName { return s.name }

func (s stageFunc) Run(ctx context.Context, st State) (State, error) { return s.fn(ctx, st) }

// NewStage adapts a function into a Stage.
func NewStage(name StageName, fn func(context.Context, State) (State, error)) Stage {
	return stageFunc{name: name, fn: fn}
}

type Registry struct {
	stages map[StageName]Stage
}

func NewRegistry(stages ...Stage) (*Registry, error) {
	r := &Registry{stages: make(map[StageName]Stage, len(Order))}
	for _, s := range stages {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Stage) error {
	name := s.Name()
	if position(name) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	if _, ok := r.stages[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	r.stages[name] = s
	return nil
}

// Replace swaps the registered implementation of a stage.
func (r *Registry) Replace(s Stage) error {
	if position(s.Name()) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStage, s.Name())
	}
	r.stages[s.Name()] = s
	return nil
}

func (r *Registry) Get(name StageName) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Complete returns an error naming the first stage of Order with no implementation.
func (r *Registry) Complete() error {
	for _, name := range Order {
		if _, ok := r.stages[name]; !ok {
			return fmt.Errorf("%w: no implementation for %s", ErrUnknownStage, name)
		}
	}
	return nil
}
