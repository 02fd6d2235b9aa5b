package pipe

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// endSpan ends a span when the wrapped iterator terminates, recording
// non-EOF errors on it.
func endSpan(it Iterator, span trace.Span) Iterator {
	ended := false
	return IteratorFunc(func(ctx context.Context) (Item, error) {
		item, err := it.Next(ctx)
		if err != nil && !ended {
			ended = true
			if err != io.EOF {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
		return item, err
	})
}
