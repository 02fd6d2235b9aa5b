package pipe

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// source yielding fixed items, for pipeline-head tests.
func sliceSource(items ...Item) *SourceFunc {
	return NewSourceFunc(func(ctx context.Context, rt *Runtime) Iterator {
		return FromSlice(items)
	})
}

func TestPipelineLazyEquivalence(t *testing.T) {
	ctx := context.Background()
	input := ints(1, 2, 3)

	p := Chain(inc(1), double())
	composed, err := Collect(ctx, Apply(ctx, p, FromSlice(input)))
	if err != nil {
		t.Fatal(err)
	}

	step1, err := Collect(ctx, Apply(ctx, inc(1), FromSlice(input)))
	if err != nil {
		t.Fatal(err)
	}
	step2, err := Collect(ctx, Apply(ctx, double(), FromSlice(step1)))
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(composed, step2) {
		t.Fatalf("%v != %v", composed, step2)
	}
}

func TestPipelineWithSourceHead(t *testing.T) {
	ctx := context.Background()
	p := Chain(sliceSource(ints(5, 6)...), inc(1))
	out, err := Collect(ctx, p.Generate(ctx))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, ints(6, 7)) {
		t.Fatalf("got %v", out)
	}
}

func TestPipelineSourceIgnoresUpstream(t *testing.T) {
	ctx := context.Background()
	p := Chain(sliceSource(ints(9)...))
	out, err := Collect(ctx, p.Transform(ctx, FromSlice(ints(1, 2, 3))))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, ints(9)) {
		t.Fatalf("got %v", out)
	}
}

func TestPipelineAttachRuntimeReachesChildren(t *testing.T) {
	rt := NewRuntime()
	a, b := inc(1), inc(2)
	p := Chain(a, b)
	p.AttachRuntime(rt)
	if a.Runtime() != rt || b.Runtime() != rt {
		t.Fatal("children must share the pipeline runtime")
	}
}

func TestScriptDrainsBetweenStages(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()

	// Stage one records into a variable; stage two reads it, which only
	// works if stage one fully drained first.
	sink := NewSegmentFunc(func(ctx context.Context, rt *Runtime, in Iterator) Iterator {
		return IteratorFunc(func(ctx context.Context) (Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			existing, _ := rt.Var("seen")
			rt.SetVar("seen", append(existing, item))
			return item, nil
		})
	})
	fromVar := NewSegmentFunc(func(ctx context.Context, rt *Runtime, in Iterator) Iterator {
		if err := Drain(ctx, in); err != nil {
			return IteratorFunc(func(context.Context) (Item, error) { return nil, err })
		}
		items, _ := rt.Var("seen")
		return FromSlice(items)
	})

	s := NewScript(sink, fromVar)
	s.AttachRuntime(rt)

	out, err := Collect(ctx, s.Transform(ctx, FromSlice(ints(1, 2, 3))))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, ints(1, 2, 3)) {
		t.Fatalf("got %v", out)
	}
}

func TestScriptMatchesDrainComposition(t *testing.T) {
	ctx := context.Background()
	input := ints(1, 2, 3)

	s := NewScript(inc(1), double())
	got, err := Collect(ctx, s.Transform(ctx, FromSlice(input)))
	if err != nil {
		t.Fatal(err)
	}

	drained, err := Collect(ctx, Apply(ctx, inc(1), FromSlice(input)))
	if err != nil {
		t.Fatal(err)
	}
	want, err := Collect(ctx, Apply(ctx, double(), FromSlice(drained)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("%v != %v", got, want)
	}
}

func TestScriptErrorInEarlyStage(t *testing.T) {
	boom := errors.New("boom")
	failing := ItemFunc(func(rt *Runtime, item Item) (Item, bool, error) {
		return nil, false, boom
	})
	s := NewScript(failing, inc(1))
	ctx := context.Background()
	_, err := Collect(ctx, s.Transform(ctx, FromSlice(ints(1))))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestLoopFeedbackThroughVariable(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()
	rt.SetVar("acc", ints(0, 1, 2))

	// Body: read @acc, double each value, write back.
	body := NewSegmentFunc(func(ctx context.Context, rt *Runtime, in Iterator) Iterator {
		if err := Drain(ctx, in); err != nil {
			return IteratorFunc(func(context.Context) (Item, error) { return nil, err })
		}
		items, _ := rt.Var("acc")
		out := make([]Item, len(items))
		for i, v := range items {
			out[i] = v.(int) * 2
		}
		rt.SetVar("acc", out)
		return FromSlice(out)
	})

	loop := NewLoop(2, body)
	loop.AttachRuntime(rt)

	out, err := Collect(ctx, loop.Generate(ctx))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, ints(0, 4, 8)) {
		t.Fatalf("got %v", out)
	}
	if v, _ := rt.Var("acc"); !reflect.DeepEqual(v, ints(0, 4, 8)) {
		t.Fatalf("variable got %v", v)
	}
}

func TestLoopZeroTimes(t *testing.T) {
	ctx := context.Background()
	loop := NewLoop(0, inc(1))
	out, err := Collect(ctx, loop.Transform(ctx, FromSlice(ints(1, 2))))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("got %v", out)
	}
}

func TestLoopOnce(t *testing.T) {
	ctx := context.Background()
	loop := NewLoop(1, inc(10))
	out, err := Collect(ctx, loop.Transform(ctx, FromSlice(ints(1, 2))))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, ints(11, 12)) {
		t.Fatalf("got %v", out)
	}
}

func TestLoopLaterIterationsGetNoInput(t *testing.T) {
	ctx := context.Background()
	var sizes []int
	body := NewSegmentFunc(func(ctx context.Context, rt *Runtime, in Iterator) Iterator {
		items, err := Collect(ctx, in)
		if err != nil {
			return IteratorFunc(func(context.Context) (Item, error) { return nil, err })
		}
		sizes = append(sizes, len(items))
		return FromSlice(items)
	})
	loop := NewLoop(3, body)
	if _, err := Collect(ctx, loop.Transform(ctx, FromSlice(ints(1, 2)))); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sizes, []int{2, 0, 0}) {
		t.Fatalf("iteration input sizes: %v", sizes)
	}
}
