// Package ops holds the source and segment registries plus the builtin
// node library the ChatterLang compiler resolves names against. External
// backends register their nodes here the same way at load time.
package ops

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

// SourceFactory builds a source from resolved DSL parameters.
type SourceFactory func(params map[string]any) (pipe.Source, error)

// SegmentFactory builds a segment from resolved DSL parameters.
type SegmentFactory func(params map[string]any) (pipe.Segment, error)

var (
	mu       sync.RWMutex
	sources  = make(map[string]SourceFactory)
	segments = make(map[string]SegmentFactory)
)

// RegisterSource registers a source factory under a DSL name. Collisions
// overwrite with a warning.
func RegisterSource(name string, f SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sources[name]; exists {
		slog.Warn("source registration overwritten", "name", name)
	}
	sources[name] = f
}

// RegisterSegment registers a segment factory under a DSL name. Collisions
// overwrite with a warning.
func RegisterSegment(name string, f SegmentFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := segments[name]; exists {
		slog.Warn("segment registration overwritten", "name", name)
	}
	segments[name] = f
}

// NewSource instantiates a registered source.
func NewSource(name string, params map[string]any) (pipe.Source, error) {
	mu.RLock()
	f, ok := sources[name]
	mu.RUnlock()
	if !ok {
		return nil, pipe.CompileErrorf("source %q not found", name)
	}
	return f(params)
}

// NewSegment instantiates a registered segment.
func NewSegment(name string, params map[string]any) (pipe.Segment, error) {
	mu.RLock()
	f, ok := segments[name]
	mu.RUnlock()
	if !ok {
		return nil, pipe.CompileErrorf("segment %q not found", name)
	}
	return f(params)
}

// HasSource reports whether a source name is registered.
func HasSource(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := sources[name]
	return ok
}

// HasSegment reports whether a segment name is registered.
func HasSegment(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := segments[name]
	return ok
}

// SourceNames returns the registered source names, sorted.
func SourceNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SegmentNames returns the registered segment names, sorted.
func SegmentNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(segments))
	for n := range segments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
