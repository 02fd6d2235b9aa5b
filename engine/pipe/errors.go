package pipe

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure kinds. Errors raised inside
// transform or generate propagate up the iterator chain and terminate the
// pipeline they belong to.
var (
	ErrCompile     = errors.New("compile error")
	ErrData        = errors.New("data error")
	ErrPipeline    = errors.New("pipeline error")
	ErrConcurrency = errors.New("concurrency error")
	ErrSingleOut   = errors.New("expected exactly one output item")
)

// CompileErrorf wraps ErrCompile with context.
func CompileErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCompile, fmt.Sprintf(format, args...))
}

// DataErrorf wraps ErrData with context.
func DataErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// PipelineErrorf wraps ErrPipeline with context.
func PipelineErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPipeline, fmt.Sprintf(format, args...))
}
