package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSagaSpan cria um span para uma operação da saga
func (o *Orchestrator) startSagaSpan(ctx context.Context, operation, sagaID, orderID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "saga."+operation)
	span.SetAttributes(
		attribute.String("saga.id", sagaID),
		attribute.String("saga.operation", operation),
		attribute.String("component", "saga-orchestrator"),
	)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	return ctx, span
}

// startStepSpan cria um span para a execução ou compensação de um passo
func (o *Orchestrator) startStepSpan(ctx context.Context, action string, step StepName, state *SagaState) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "saga."+action+"."+string(step))
	span.SetAttributes(
		attribute.String("saga.id", state.SagaID),
		attribute.String("saga.step", string(step)),
		attribute.String("order.id", state.OrderID),
		attribute.String("component", "saga-orchestrator"),
	)
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
