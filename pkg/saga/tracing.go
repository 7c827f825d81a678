package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sagaTracerName = "payrail.saga"

const (
	spanSagaRun        = "saga.run"
	spanSagaStep       = "saga.step.execute"
	spanSagaCompensate = "saga.compensate"
)

func sagaTracer() trace.Tracer {
	return otel.Tracer(sagaTracerName)
}
