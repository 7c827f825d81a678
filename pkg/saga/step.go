// Package saga provides a forward/backward-recovery orchestration engine for
// multi-step operations that cannot share a single transaction.
package saga

import "context"

// Step is one executable unit in a saga. Execute performs the forward action
// against the shared saga context; Compensate reverses it after a later step
// fails. Compensate must succeed trivially when its forward action never ran,
// which each step decides from flags it owns inside the context.
type Step[C any] interface {
	Name() string
	Execute(ctx context.Context, sagaCtx *C) error
	Compensate(ctx context.Context, sagaCtx *C) error
}

// StepFuncs adapts plain functions into a Step. Useful for tests and small
// sagas that do not warrant a dedicated type.
type StepFuncs[C any] struct {
	StepName       string
	ExecuteFunc    func(ctx context.Context, sagaCtx *C) error
	CompensateFunc func(ctx context.Context, sagaCtx *C) error
}

// Name returns the step name.
func (s StepFuncs[C]) Name() string { return s.StepName }

// Execute runs the forward action.
func (s StepFuncs[C]) Execute(ctx context.Context, sagaCtx *C) error {
	if s.ExecuteFunc == nil {
		return nil
	}
	return s.ExecuteFunc(ctx, sagaCtx)
}

// Compensate runs the reverse action.
func (s StepFuncs[C]) Compensate(ctx context.Context, sagaCtx *C) error {
	if s.CompensateFunc == nil {
		return nil
	}
	return s.CompensateFunc(ctx, sagaCtx)
}
