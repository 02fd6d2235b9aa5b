package pipe

import (
	"context"

	"go.opentelemetry.io/otel"
)

// Pipeline is an ordered sequence of nodes evaluated lazily: each segment's
// output iterator feeds the next segment. A pipeline headed by a Source
// ignores upstream input.
type Pipeline struct {
	Base
	nodes []Node
}

// NewPipeline builds a pipeline from nodes. Only the first node may be a
// Source; the rest must be Segments.
func NewPipeline(nodes ...Node) *Pipeline {
	p := &Pipeline{}
	for _, n := range nodes {
		p.Append(n)
	}
	return p
}

// Chain is the composition operator: it wires a head node to trailing
// segments and returns the pipeline recording the wiring.
func Chain(head Node, segs ...Segment) *Pipeline {
	p := NewPipeline(head)
	for _, s := range segs {
		p.Append(s)
	}
	return p
}

// Append adds a node and returns the pipeline for chaining.
func (p *Pipeline) Append(n Node) *Pipeline {
	if sub, ok := n.(*Pipeline); ok && sub != nil {
		p.nodes = append(p.nodes, sub.nodes...)
		return p
	}
	p.nodes = append(p.nodes, n)
	return p
}

// Then adds a segment stage and returns the pipeline for chaining.
func (p *Pipeline) Then(seg Segment) *Pipeline { return p.Append(seg) }

// Nodes exposes the wiring for introspection.
func (p *Pipeline) Nodes() []Node { return p.nodes }

// AttachRuntime attaches the runtime to the pipeline and every child node.
func (p *Pipeline) AttachRuntime(rt *Runtime) {
	p.Base.AttachRuntime(rt)
	for _, n := range p.nodes {
		n.AttachRuntime(rt)
	}
}

// MetadataAware is true: the pipeline applies the passthrough policy per
// child segment and must see metadata itself.
func (p *Pipeline) MetadataAware() bool { return true }

// Transform drives the input through every node in order.
func (p *Pipeline) Transform(ctx context.Context, in Iterator) Iterator {
	ctx, span := otel.Tracer("engine/pipe").Start(ctx, "pipeline.transform")
	cur := in
	for _, n := range p.nodes {
		switch node := n.(type) {
		case Segment:
			cur = transform(ctx, node, cur)
		case Source:
			cur = node.Generate(ctx)
		}
	}
	return endSpan(cur, span)
}

// Generate runs the pipeline with no upstream input.
func (p *Pipeline) Generate(ctx context.Context) Iterator {
	return p.Transform(ctx, Empty())
}

// Script is an ordered sequence of stages where stage i+1 starts only after
// stage i's iterator is fully drained. The drained output of each stage is
// buffered and fed to the next; only the final stage's output is yielded.
// This is the composition for DSL statements separated by ";": earlier
// statements may write @variables that later statements read.
type Script struct {
	Base
	stages []Segment
}

// NewScript builds a script from stages.
func NewScript(stages ...Segment) *Script {
	return &Script{stages: stages}
}

// Append adds a stage.
func (s *Script) Append(stage Segment) *Script {
	s.stages = append(s.stages, stage)
	return s
}

// Stages exposes the wiring for introspection.
func (s *Script) Stages() []Segment { return s.stages }

// AttachRuntime attaches the runtime to the script and every stage.
func (s *Script) AttachRuntime(rt *Runtime) {
	s.Base.AttachRuntime(rt)
	for _, st := range s.stages {
		st.AttachRuntime(rt)
	}
}

func (s *Script) MetadataAware() bool { return true }

// Transform drains each stage in order, streaming only the final stage.
func (s *Script) Transform(ctx context.Context, in Iterator) Iterator {
	return &lazyIterator{init: func(ctx context.Context) (Iterator, error) {
		if len(s.stages) == 0 {
			return in, nil
		}
		cur := in
		for _, stage := range s.stages[:len(s.stages)-1] {
			buf, err := Collect(ctx, transform(ctx, stage, cur))
			if err != nil {
				return nil, err
			}
			cur = FromSlice(buf)
		}
		return transform(ctx, s.stages[len(s.stages)-1], cur), nil
	}}
}

// Generate runs the script with no upstream input.
func (s *Script) Generate(ctx context.Context) Iterator {
	return s.Transform(ctx, Empty())
}

// Loop re-executes a body script a fixed number of times. The loop's
// upstream input is threaded into iteration one; later iterations start
// from an empty stream and are expected to read feedback from @variables.
// All but the final iteration are drained and discarded.
type Loop struct {
	Base
	times int
	body  Segment
}

// NewLoop builds a loop over a body segment.
func NewLoop(times int, body Segment) *Loop {
	return &Loop{times: times, body: body}
}

// AttachRuntime attaches the runtime to the loop and its body.
func (l *Loop) AttachRuntime(rt *Runtime) {
	l.Base.AttachRuntime(rt)
	l.body.AttachRuntime(rt)
}

func (l *Loop) MetadataAware() bool { return true }

// Transform runs the body l.times times, yielding the last iteration.
func (l *Loop) Transform(ctx context.Context, in Iterator) Iterator {
	return &lazyIterator{init: func(ctx context.Context) (Iterator, error) {
		if l.times <= 0 {
			return Empty(), nil
		}
		cur := in
		for i := 0; i < l.times-1; i++ {
			if err := Drain(ctx, transform(ctx, l.body, cur)); err != nil {
				return nil, err
			}
			cur = Empty()
		}
		return transform(ctx, l.body, cur), nil
	}}
}

// Generate runs the loop with no upstream input.
func (l *Loop) Generate(ctx context.Context) Iterator {
	return l.Transform(ctx, Empty())
}
