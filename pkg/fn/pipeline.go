package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage is one step of a pipeline.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs first and feeds its value to second, stopping at the first error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		v, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		return second(ctx, v)
	}
}

// TracedStage runs stage inside a span named name and records its error.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer("pkg/fn").Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if _, err := result.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
