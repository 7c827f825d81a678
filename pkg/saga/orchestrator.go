package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/payrail/payrail/pkg/logger"
)

// Option customizes Orchestrator initialization.
type Option[C any] func(o *Orchestrator[C])

// WithTimeout sets a deadline for the whole run. The deadline covers forward
// execution only; compensation is detached from it so that a run that failed
// by timing out can still be unwound.
func WithTimeout[C any](timeout time.Duration) Option[C] {
	return func(o *Orchestrator[C]) {
		o.timeout = timeout
	}
}

// WithStepTimeout sets a per-call deadline applied to every Execute and
// Compensate invocation.
func WithStepTimeout[C any](timeout time.Duration) Option[C] {
	return func(o *Orchestrator[C]) {
		o.stepTimeout = timeout
	}
}

// WithLogger overrides the orchestrator logger.
func WithLogger[C any](log logger.Logger) Option[C] {
	return func(o *Orchestrator[C]) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMetrics wires a metrics recorder into the orchestrator.
func WithMetrics[C any](recorder MetricsRecorder) Option[C] {
	return func(o *Orchestrator[C]) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// Orchestrator executes an ordered list of steps against a shared context and
// compensates the completed prefix, in reverse order, when a step fails.
//
// The orchestrator has no knowledge of the context shape beyond the type
// parameter; steps communicate by mutating the shared *C, so writes made by
// an earlier step are visible to every later step and to every compensation.
type Orchestrator[C any] struct {
	name        string
	steps       []Step[C]
	timeout     time.Duration
	stepTimeout time.Duration
	logger      logger.Logger
	metrics     MetricsRecorder
}

// New creates an orchestrator for one saga shape.
func New[C any](name string, opts ...Option[C]) *Orchestrator[C] {
	o := &Orchestrator[C]{
		name:    name,
		steps:   make([]Step[C], 0, 4),
		logger:  logger.Global(),
		metrics: nopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// AddStep appends a step. Execution order is exactly the addition order.
func (o *Orchestrator[C]) AddStep(step Step[C]) *Orchestrator[C] {
	o.steps = append(o.steps, step)
	return o
}

// Execute runs every step in declared order. On the first failure the
// remaining steps never run; instead every previously completed step gets a
// compensation attempt, walking the completed prefix backward. A failing
// compensation does not stop the walk: each completed step is attempted and
// its outcome recorded, because partially unwinding silently is worse than
// reporting exactly which reversals did not land.
func (o *Orchestrator[C]) Execute(ctx context.Context, sagaCtx *C) Result[C] {
	runID := uuid.NewString()
	log := o.logger.With("saga", o.name, "run_id", runID)

	ctx, span := sagaTracer().Start(ctx, spanSagaRun)
	span.SetAttributes(attribute.String("saga.name", o.name), attribute.String("saga.run_id", runID))
	defer span.End()

	runCtx := ctx
	cancel := func() {}
	if o.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
	}
	defer cancel()

	state := RunStateRunning
	start := time.Now()
	o.metrics.IncActiveRuns()
	defer o.metrics.DecActiveRuns()

	log.InfoContext(ctx, "saga started", "steps", len(o.steps))

	completed := make([]Step[C], 0, len(o.steps))
	completedNames := make([]string, 0, len(o.steps))

	for _, step := range o.steps {
		if err := o.executeStep(runCtx, step, sagaCtx); err != nil {
			log.ErrorContext(ctx, "saga step failed", "step", step.Name(), "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "step "+step.Name()+" failed")

			_ = state.transitionTo(RunStateCompensating)
			var compensations []CompensationResult
			if len(completed) > 0 {
				compensations = o.compensate(ctx, log, completed, sagaCtx)
			}
			_ = state.transitionTo(RunStateFailed)

			o.metrics.RecordRun(state.String())
			o.metrics.RecordRunDuration(state.String(), time.Since(start))

			return Result[C]{
				Success:             false,
				Context:             *sagaCtx,
				CompletedSteps:      completedNames,
				FailedStep:          step.Name(),
				Err:                 err,
				CompensationResults: compensations,
			}
		}

		completed = append(completed, step)
		completedNames = append(completedNames, step.Name())
		log.DebugContext(ctx, "saga step completed", "step", step.Name())
	}

	_ = state.transitionTo(RunStateSucceeded)
	o.metrics.RecordRun(state.String())
	o.metrics.RecordRunDuration(state.String(), time.Since(start))
	log.InfoContext(ctx, "saga completed", "completed_steps", completedNames)

	return Result[C]{
		Success:        true,
		Context:        *sagaCtx,
		CompletedSteps: completedNames,
	}
}

func (o *Orchestrator[C]) executeStep(ctx context.Context, step Step[C], sagaCtx *C) error {
	ctx, span := sagaTracer().Start(ctx, spanSagaStep)
	span.SetAttributes(attribute.String("saga.step", step.Name()))
	defer span.End()

	stepCtx := ctx
	cancel := func() {}
	if o.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
	}
	defer cancel()

	// The step's own report is authoritative. A nil return means its side
	// effect landed, even when the deadline expired concurrently: relabeling
	// it as failed would leave an applied effect outside the completed
	// prefix, and nothing would ever compensate it.
	err := step.Execute(stepCtx, sagaCtx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// compensate walks the completed steps backward by index. The step list is
// the registration-time slice, so there is no lookup that can miss.
// Compensation runs on a context detached from the run deadline: a saga that
// failed by timing out must still be unwound, while the per-step timeout
// still bounds each individual reversal.
func (o *Orchestrator[C]) compensate(
	ctx context.Context,
	log logger.Logger,
	completed []Step[C],
	sagaCtx *C,
) []CompensationResult {
	ctx, span := sagaTracer().Start(context.WithoutCancel(ctx), spanSagaCompensate)
	defer span.End()

	start := time.Now()
	results := make([]CompensationResult, 0, len(completed))
	log.WarnContext(ctx, "saga compensation started", "completed_steps", len(completed))

	allSucceeded := true
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]

		stepCtx := ctx
		cancel := func() {}
		if o.stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		}

		// As with execution, trust the step: a refund that reported success
		// must not be recorded as a compensation failure just because the
		// deadline fired while it returned.
		err := step.Compensate(stepCtx, sagaCtx)
		cancel()

		results = append(results, CompensationResult{
			StepName: step.Name(),
			Success:  err == nil,
			Err:      err,
		})

		if err != nil {
			allSucceeded = false
			span.RecordError(err)
			log.ErrorContext(ctx, "saga compensation failed", "step", step.Name(), "error", err)
			continue
		}
		log.InfoContext(ctx, "saga step compensated", "step", step.Name())
	}

	status := "succeeded"
	if !allSucceeded {
		status = "failed"
		span.SetStatus(codes.Error, "compensation incomplete")
	}
	o.metrics.RecordCompensation(status)
	o.metrics.RecordCompensationDuration(time.Since(start))
	log.WarnContext(ctx, "saga compensation finished", "status", status)

	return results
}
