package chatterlang

import (
	"context"
	"io"

	"github.com/chatterflow/chatterflow/engine/arrow"
	"github.com/chatterflow/chatterflow/engine/fork"
	"github.com/chatterflow/chatterflow/engine/ops"
	"github.com/chatterflow/chatterflow/engine/pipe"
)

// Options tunes compilation.
type Options struct {
	// OverrideConsts lets script CONST declarations replace values already
	// present in the runtime's constant store.
	OverrideConsts bool
	// ArrowCapacity is the per-consumer queue capacity for arrow forks.
	ArrowCapacity int
}

// Compile parses and compiles ChatterLang source against a runtime. A nil
// runtime gets a fresh one.
func Compile(src string, rt *pipe.Runtime) (*Compiled, error) {
	return CompileWith(src, rt, Options{})
}

// CompileWith compiles with explicit options.
func CompileWith(src string, rt *pipe.Runtime, opts Options) (*Compiled, error) {
	ast, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return CompileScript(ast, rt, opts)
}

// unit is one compiled top-level pipeline with its arrow roles.
type unit struct {
	seg        pipe.Segment
	forkTarget string
	forkSource string
}

// Compiled is an executable ChatterLang script. It implements Segment so a
// host can feed it input items; each Transform call re-instantiates the
// arrow queues from the wiring plan, so a compiled script may be executed
// repeatedly.
type Compiled struct {
	pipe.Base
	units    []unit
	graph    *arrowGraph
	arrowCap int
}

// CompileScript lowers a parsed AST onto the engine primitives.
func CompileScript(ast *Script, rt *pipe.Runtime, opts Options) (*Compiled, error) {
	if rt == nil {
		rt = pipe.NewRuntime()
	}

	// Constants: merge script declarations into the shared store.
	rt.MergeConsts(ast.Constants, opts.OverrideConsts)

	// Arrow graph: one node per top-level pipeline and per fork name.
	graph := newArrowGraph()
	idx := 0
	for _, el := range ast.Elements {
		if pl, ok := el.(*Pipeline); ok {
			if pl.ForkTarget != "" {
				graph.addEdge(pipelineNode(idx), pl.ForkTarget)
			}
			if pl.ForkSource != "" {
				graph.addEdge(pl.ForkSource, pipelineNode(idx))
			}
		}
		idx++
	}

	c := &Compiled{graph: graph, arrowCap: opts.ArrowCapacity}
	c.AttachRuntime(rt)

	// Per-pipeline compilation; arrow wiring happens per execution.
	for _, el := range ast.Elements {
		switch node := el.(type) {
		case *Pipeline:
			seg, err := compilePipeline(node, rt)
			if err != nil {
				return nil, err
			}
			c.units = append(c.units, unit{
				seg:        seg,
				forkTarget: node.ForkTarget,
				forkSource: node.ForkSource,
			})
		case *Loop:
			seg, err := compileLoop(node, rt)
			if err != nil {
				return nil, err
			}
			c.units = append(c.units, unit{seg: seg})
		}
	}
	return c, nil
}

func compileLoop(node *Loop, rt *pipe.Runtime) (pipe.Segment, error) {
	body := pipe.NewScript()
	for _, pl := range node.Pipelines {
		if pl.ForkTarget != "" || pl.ForkSource != "" {
			return nil, pipe.CompileErrorf("arrow forks are not allowed inside LOOP")
		}
		seg, err := compilePipeline(pl, rt)
		if err != nil {
			return nil, err
		}
		body.Append(seg)
	}
	loop := pipe.NewLoop(node.Times, body)
	loop.AttachRuntime(rt)
	return loop, nil
}

func compilePipeline(node *Pipeline, rt *pipe.Runtime) (pipe.Segment, error) {
	p := pipe.NewPipeline()

	if node.Input != nil {
		src, err := compileInput(node.Input, rt)
		if err != nil {
			return nil, err
		}
		p.Append(src)
	}

	for _, stage := range node.Stages {
		switch s := stage.(type) {
		case *VariableRef:
			p.Append(ops.NewVariableSink(s.Name))
		case *SegmentRef:
			params, err := resolveParams(s.Params, rt)
			if err != nil {
				return nil, err
			}
			seg, err := ops.NewSegment(s.Name, params)
			if err != nil {
				return nil, err
			}
			p.Append(seg)
		case *ForkStage:
			fs, err := compileFork(s, rt)
			if err != nil {
				return nil, err
			}
			p.Append(fs)
		}
	}

	p.AttachRuntime(rt)
	return p, nil
}

func compileInput(input *Input, rt *pipe.Runtime) (pipe.Node, error) {
	switch {
	case input.Literal != nil:
		return ops.NewSource("echo", map[string]any{"data": *input.Literal})
	case input.Variable != "":
		return ops.NewVariableSource(input.Variable), nil
	case input.Source != nil:
		params, err := resolveParams(input.Source.Params, rt)
		if err != nil {
			return nil, err
		}
		return ops.NewSource(input.Source.Name, params)
	default:
		return nil, pipe.CompileErrorf("empty input node")
	}
}

func compileFork(node *ForkStage, rt *pipe.Runtime) (pipe.Segment, error) {
	branches := make([]pipe.Segment, 0, len(node.Branches))
	for _, pl := range node.Branches {
		if pl.ForkTarget != "" || pl.ForkSource != "" {
			return nil, pipe.CompileErrorf("arrow forks are not allowed inside a fork stage")
		}
		seg, err := compilePipeline(pl, rt)
		if err != nil {
			return nil, err
		}
		branches = append(branches, seg)
	}
	fs := fork.New(fork.Broadcast, branches...)
	fs.AttachRuntime(rt)
	return fs, nil
}

// resolveParams replaces identifier parameters with constant-store values,
// recursing into lists.
func resolveParams(params map[string]any, rt *pipe.Runtime) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := resolveValue(v, rt)
		if err != nil {
			return nil, pipe.CompileErrorf("parameter %q: %v", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v any, rt *pipe.Runtime) (any, error) {
	switch val := v.(type) {
	case Ident:
		resolved, ok := rt.Const(string(val))
		if !ok {
			return nil, pipe.CompileErrorf("unresolved identifier %q", string(val))
		}
		return resolved, nil
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			resolved, err := resolveValue(el, rt)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// MetadataAware is true: the compiled script delegates metadata policy to
// its contained pipelines.
func (c *Compiled) MetadataAware() bool { return true }

// Transform executes the script over an input stream. Arrow queues are
// created fresh, consumers registered, producers started, and the
// remaining top-level units run with script (drain-between-stages)
// semantics. The input feeds the first top-level unit.
func (c *Compiled) Transform(ctx context.Context, in pipe.Iterator) pipe.Iterator {
	return &compiledRun{c: c, in: in}
}

// Generate executes the script with no input.
func (c *Compiled) Generate(ctx context.Context) pipe.Iterator {
	return c.Transform(ctx, pipe.Empty())
}

// Run executes the script over the given items and returns all outputs.
func (c *Compiled) Run(ctx context.Context, input []pipe.Item) ([]pipe.Item, error) {
	return pipe.Collect(ctx, c.Transform(ctx, pipe.FromSlice(input)))
}

type compiledRun struct {
	c      *Compiled
	in     pipe.Iterator
	out    pipe.Iterator
	queues []*arrow.Queue
	err    error
	done   bool
}

func (r *compiledRun) Next(ctx context.Context) (pipe.Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.done {
		return nil, io.EOF
	}
	if r.out == nil {
		if err := r.start(ctx); err != nil {
			r.err = err
			return nil, err
		}
	}
	item, err := r.out.Next(ctx)
	if err == io.EOF {
		r.done = true
		// Pure producers may still be running; their side effects belong
		// to this execution, so wait for every queue to drain.
		for _, q := range r.queues {
			q.Wait()
		}
		return nil, io.EOF
	}
	return item, err
}

func (r *compiledRun) start(ctx context.Context) error {
	c := r.c
	rt := c.Runtime()

	queues := make(map[string]*arrow.Queue)
	for _, name := range c.graph.forkNames() {
		q := arrow.New(name, c.arrowCap)
		queues[name] = q
		r.queues = append(r.queues, q)
	}

	// Consumers register before producers start.
	consumerIters := make(map[int]pipe.Iterator)
	for i, u := range c.units {
		if u.forkSource == "" {
			continue
		}
		q, ok := queues[u.forkSource]
		if !ok {
			return pipe.CompileErrorf("fork %q has no queue", u.forkSource)
		}
		it, err := q.RegisterConsumer()
		if err != nil {
			return err
		}
		consumerIters[i] = it
	}

	// Producer pipelines run in the queue's background workers. A unit
	// that is both consumer and producer reads its fork input there too,
	// so it never deadlocks on its own consumer read.
	for i, u := range c.units {
		if u.forkTarget == "" {
			continue
		}
		q, ok := queues[u.forkTarget]
		if !ok {
			return pipe.CompileErrorf("fork %q has no queue", u.forkTarget)
		}
		seg := u.seg
		input := consumerIters[i]
		if err := q.RegisterProducer(func(ctx context.Context) pipe.Iterator {
			src := input
			if src == nil {
				src = pipe.Empty()
			}
			return pipe.Apply(ctx, seg, src)
		}); err != nil {
			return err
		}
	}

	for _, q := range r.queues {
		if err := q.Start(ctx); err != nil {
			return err
		}
	}

	// Top-level plan: everything that does not feed a fork, in script
	// order. Consumer-only units read from their fork instead of the
	// script chain.
	script := pipe.NewScript()
	for i, u := range c.units {
		if u.forkTarget != "" {
			continue
		}
		if it, ok := consumerIters[i]; ok {
			script.Append(newConsumerWrapper(u.seg, it))
			continue
		}
		script.Append(u.seg)
	}
	script.AttachRuntime(rt)
	if len(script.Stages()) == 0 {
		// Producer-only script: all output flows through forks.
		r.out = pipe.Empty()
		return nil
	}
	r.out = script.Transform(ctx, r.in)
	return nil
}

// consumerWrapper re-enters a compiled pipeline with a fork consumer
// iterator as its input, ignoring the script-chained input.
type consumerWrapper struct {
	pipe.Base
	seg pipe.Segment
	it  pipe.Iterator
}

func newConsumerWrapper(seg pipe.Segment, it pipe.Iterator) *consumerWrapper {
	return &consumerWrapper{seg: seg, it: it}
}

func (w *consumerWrapper) MetadataAware() bool { return true }

func (w *consumerWrapper) Transform(ctx context.Context, in pipe.Iterator) pipe.Iterator {
	return pipe.Apply(ctx, w.seg, w.it)
}
