package pipe

import (
	"context"
	"fmt"
	"io"
)

// Node is the common contract of sources and segments: every node carries a
// Runtime reference assigned by the compiler before first use.
type Node interface {
	AttachRuntime(*Runtime)
	Runtime() *Runtime
}

// Source produces a lazy stream of items without stream input.
type Source interface {
	Node
	Generate(ctx context.Context) Iterator
}

// Segment consumes a lazy stream of items and produces another. Cardinality
// is unconstrained: a segment may filter, expand, or aggregate.
type Segment interface {
	Node
	Transform(ctx context.Context, in Iterator) Iterator
}

// MetadataAware marks segments that want to see metadata items interleaved
// with data. Segments without this marker (or returning false) never see
// metadata: the engine filters it out of their input and re-injects it into
// their output in relative order.
type MetadataAware interface {
	MetadataAware() bool
}

func isMetadataAware(seg Segment) bool {
	ma, ok := seg.(MetadataAware)
	return ok && ma.MetadataAware()
}

// Base provides the runtime plumbing shared by all node implementations.
// Embed it in sources and segments.
type Base struct {
	rt *Runtime
}

// AttachRuntime assigns the shared runtime.
func (b *Base) AttachRuntime(rt *Runtime) { b.rt = rt }

// Runtime returns the attached runtime, creating a standalone one for nodes
// used outside a compiled graph.
func (b *Base) Runtime() *Runtime {
	if b.rt == nil {
		b.rt = NewRuntime()
	}
	return b.rt
}

// --- Function adapters ---

// SourceFunc adapts a generator function into a Source.
type SourceFunc struct {
	Base
	Fn func(ctx context.Context, rt *Runtime) Iterator
}

// NewSourceFunc wraps a function as a Source.
func NewSourceFunc(fn func(ctx context.Context, rt *Runtime) Iterator) *SourceFunc {
	return &SourceFunc{Fn: fn}
}

func (s *SourceFunc) Generate(ctx context.Context) Iterator {
	return s.Fn(ctx, s.Runtime())
}

// SegmentFunc adapts a transform function into a Segment.
type SegmentFunc struct {
	Base
	Fn    func(ctx context.Context, rt *Runtime, in Iterator) Iterator
	Aware bool
}

// NewSegmentFunc wraps a function as a metadata-passthrough Segment.
func NewSegmentFunc(fn func(ctx context.Context, rt *Runtime, in Iterator) Iterator) *SegmentFunc {
	return &SegmentFunc{Fn: fn}
}

// NewMetaSegmentFunc wraps a function as a metadata-aware Segment.
func NewMetaSegmentFunc(fn func(ctx context.Context, rt *Runtime, in Iterator) Iterator) *SegmentFunc {
	return &SegmentFunc{Fn: fn, Aware: true}
}

func (s *SegmentFunc) Transform(ctx context.Context, in Iterator) Iterator {
	return s.Fn(ctx, s.Runtime(), in)
}

func (s *SegmentFunc) MetadataAware() bool { return s.Aware }

// ItemFunc wraps a per-item mapping function as a Segment. Returning
// (nil, false, nil) drops the item.
func ItemFunc(fn func(rt *Runtime, item Item) (Item, bool, error)) *SegmentFunc {
	return NewSegmentFunc(func(ctx context.Context, rt *Runtime, in Iterator) Iterator {
		return IteratorFunc(func(ctx context.Context) (Item, error) {
			for {
				item, err := in.Next(ctx)
				if err != nil {
					return nil, err
				}
				out, keep, err := fn(rt, item)
				if err != nil {
					return nil, err
				}
				if keep {
					return out, nil
				}
			}
		})
	})
}

// --- Metadata passthrough ---

// metaRelay buffers metadata filtered from a passthrough segment's input.
// Both sides run on the caller's goroutine: the segment pulls input only
// from inside its own Next, so no locking is needed.
type metaRelay struct {
	pending []Item
}

func (m *metaRelay) filter(in Iterator) Iterator {
	return IteratorFunc(func(ctx context.Context) (Item, error) {
		for {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			if IsMeta(item) {
				m.pending = append(m.pending, item)
				continue
			}
			return item, nil
		}
	})
}

func (m *metaRelay) reinject(out Iterator) Iterator {
	var stash []Item
	done := false
	pop := func(q *[]Item) Item {
		item := (*q)[0]
		*q = (*q)[1:]
		return item
	}
	return IteratorFunc(func(ctx context.Context) (Item, error) {
		if len(m.pending) > 0 {
			return pop(&m.pending), nil
		}
		if len(stash) > 0 {
			return pop(&stash), nil
		}
		if done {
			return nil, io.EOF
		}
		item, err := out.Next(ctx)
		if err == io.EOF {
			done = true
			if len(m.pending) > 0 {
				return pop(&m.pending), nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		// Metadata consumed while this item was produced goes out first:
		// it preceded the item in the input.
		if len(m.pending) > 0 {
			stash = append(stash, item)
			return pop(&m.pending), nil
		}
		return item, nil
	})
}

// Apply runs a segment over an input stream under the engine's metadata
// policy. Composers and the compiler route all segment execution through it.
func Apply(ctx context.Context, seg Segment, in Iterator) Iterator {
	return transform(ctx, seg, in)
}

// transform runs a segment over an input stream, applying the metadata
// passthrough policy unless the segment is metadata-aware.
func transform(ctx context.Context, seg Segment, in Iterator) Iterator {
	if isMetadataAware(seg) {
		return seg.Transform(ctx, in)
	}
	relay := &metaRelay{}
	return relay.reinject(seg.Transform(ctx, relay.filter(in)))
}

// --- As-function adapters ---

// Run executes a node over the given input items and returns all outputs.
// The node may be a Source (input is ignored) or a Segment.
func Run(ctx context.Context, node Node, input []Item) ([]Item, error) {
	switch n := node.(type) {
	case Segment:
		return Collect(ctx, transform(ctx, n, FromSlice(input)))
	case Source:
		return Collect(ctx, n.Generate(ctx))
	default:
		return nil, CompileErrorf("node %T is neither source nor segment", node)
	}
}

// RunSingle executes a node expecting exactly one output item.
func RunSingle(ctx context.Context, node Node, input []Item) (Item, error) {
	out, err := Run(ctx, node, input)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: got %d items", ErrSingleOut, len(out))
	}
	return out[0], nil
}
