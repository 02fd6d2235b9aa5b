package chatterlang

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

func compileAndRun(t *testing.T, src string) (*pipe.Runtime, *bytes.Buffer, []pipe.Item) {
	t.Helper()
	rt := pipe.NewRuntime()
	var buf bytes.Buffer
	rt.Out = &buf

	compiled, err := Compile(src, rt)
	if err != nil {
		t.Fatal(err)
	}
	out, err := compiled.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return rt, &buf, out
}

func TestEchoThroughFilter(t *testing.T) {
	_, buf, out := compileAndRun(t, `INPUT FROM echo[data="1,2,3,4,5"] | cast[cast_type="int"] | print;`)
	if buf.String() != "1\n2\n3\n4\n5\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
	if !reflect.DeepEqual(out, []pipe.Item{1, 2, 3, 4, 5}) {
		t.Fatalf("output: %v", out)
	}
}

func TestVariableRoundTrip(t *testing.T) {
	rt, buf, _ := compileAndRun(t, `INPUT FROM echo[data="a|b|c", delimiter="|"] | @words; INPUT FROM @words | print;`)
	if buf.String() != "a\nb\nc\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
	words, ok := rt.Var("words")
	if !ok || !reflect.DeepEqual(words, []pipe.Item{"a", "b", "c"}) {
		t.Fatalf("variable: %v", words)
	}
}

func TestLoopWithAccumulator(t *testing.T) {
	src := `INPUT FROM range[lower=0, upper=3] | @data;
LOOP 2 TIMES { INPUT FROM @data | scale[multiplier=2] | @data };
INPUT FROM @data | print;`
	rt, buf, _ := compileAndRun(t, src)
	if buf.String() != "0\n4\n8\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
	if v, _ := rt.Var("data"); !reflect.DeepEqual(v, []pipe.Item{0, 4, 8}) {
		t.Fatalf("variable: %v", v)
	}
}

func TestArrowFork(t *testing.T) {
	_, buf, out := compileAndRun(t, "INPUT FROM echo[data=\"x,y\"] → bus; bus → | print;")
	if buf.String() != "x\ny\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
	if !reflect.DeepEqual(out, []pipe.Item{"x", "y"}) {
		t.Fatalf("output: %v", out)
	}
}

func TestArrowForkMultipleConsumers(t *testing.T) {
	src := `INPUT FROM echo[data="a,b"] -> bus;
bus -> | @first;
bus -> | @second;`
	rt, _, _ := compileAndRun(t, src)
	want := []pipe.Item{"a", "b"}
	if v, _ := rt.Var("first"); !reflect.DeepEqual(v, want) {
		t.Fatalf("first: %v", v)
	}
	if v, _ := rt.Var("second"); !reflect.DeepEqual(v, want) {
		t.Fatalf("second: %v", v)
	}
}

func TestArrowForkChained(t *testing.T) {
	// The middle pipeline consumes one fork and produces to another, so it
	// must run as a background producer.
	src := `INPUT FROM echo[data="1,2"] -> raw;
raw -> | cast[cast_type="int"] -> typed;
typed -> | scale[multiplier=10] | @out;`
	rt, _, _ := compileAndRun(t, src)
	if v, _ := rt.Var("out"); !reflect.DeepEqual(v, []pipe.Item{10, 20}) {
		t.Fatalf("got %v", v)
	}
}

func TestInlineForkBroadcast(t *testing.T) {
	src := `INPUT FROM echo[data="1,2"] | cast[cast_type="int"] | { scale[multiplier=10], scale[multiplier=100] } | @results;`
	rt, _, _ := compileAndRun(t, src)
	v, _ := rt.Var("results")
	counts := map[int]int{}
	for _, item := range v {
		counts[item.(int)]++
	}
	want := map[int]int{10: 1, 20: 1, 100: 1, 200: 1}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("got %v", counts)
	}
}

func TestConstResolution(t *testing.T) {
	src := `CONST UPPER = 3; INPUT FROM range[lower=0, upper=UPPER] | print;`
	_, buf, _ := compileAndRun(t, src)
	if buf.String() != "0\n1\n2\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
}

func TestHostConstWinsOverScript(t *testing.T) {
	rt := pipe.NewRuntime()
	rt.SetConst("UPPER", 2)
	var buf bytes.Buffer
	rt.Out = &buf
	compiled, err := Compile(`CONST UPPER = 5; INPUT FROM range[lower=0, upper=UPPER] | print;`, rt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := compiled.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0\n1\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
}

func TestUnresolvedIdentifierFails(t *testing.T) {
	_, err := Compile(`INPUT FROM range[lower=0, upper=MISSING] | print;`, nil)
	if !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
}

func TestUnknownSegmentFails(t *testing.T) {
	_, err := Compile(`INPUT FROM echo[data="x"] | definitelyNotASegment;`, nil)
	if !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
}

func TestUnknownSourceFails(t *testing.T) {
	_, err := Compile(`INPUT FROM definitelyNotASource | print;`, nil)
	if !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
}

func TestLiteralInputBecomesEcho(t *testing.T) {
	_, buf, _ := compileAndRun(t, `INPUT FROM "p,q" | print;`)
	if buf.String() != "p\nq\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
}

func TestCompiledGraphIsRerunnable(t *testing.T) {
	rt := pipe.NewRuntime()
	var buf bytes.Buffer
	rt.Out = &buf
	compiled, err := Compile("INPUT FROM echo[data=\"x,y\"] → bus; bus → | print;", rt)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		out, err := compiled.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(out, []pipe.Item{"x", "y"}) {
			t.Fatalf("run %d: %v", i, out)
		}
	}
	if buf.String() != "x\ny\nx\ny\nx\ny\n" {
		t.Fatalf("stdout: %q", buf.String())
	}
}

func TestCompiledAcceptsHostInput(t *testing.T) {
	rt := pipe.NewRuntime()
	compiled, err := Compile(`| cast[cast_type="int"] | scale[multiplier=3];`, rt)
	if err != nil {
		t.Fatal(err)
	}
	out, err := compiled.Run(context.Background(), []pipe.Item{"1", "2"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []pipe.Item{3, 6}) {
		t.Fatalf("got %v", out)
	}
}

func TestArrowGraphRoles(t *testing.T) {
	ast, err := Parse(`INPUT FROM echo[data="x"] -> bus; bus -> | print; bus -> | print;`)
	if err != nil {
		t.Fatal(err)
	}
	g := newArrowGraph()
	for i, el := range ast.Elements {
		pl := el.(*Pipeline)
		if pl.ForkTarget != "" {
			g.addEdge(pipelineNode(i), pl.ForkTarget)
		}
		if pl.ForkSource != "" {
			g.addEdge(pl.ForkSource, pipelineNode(i))
		}
	}
	if !reflect.DeepEqual(g.forkNames(), []string{"bus"}) {
		t.Fatalf("forks: %v", g.forkNames())
	}
	if !reflect.DeepEqual(g.producers("bus"), []int{0}) {
		t.Fatalf("producers: %v", g.producers("bus"))
	}
	if !reflect.DeepEqual(g.consumers("bus"), []int{1, 2}) {
		t.Fatalf("consumers: %v", g.consumers("bus"))
	}
	if !g.isProducer(0) || g.isConsumer(0) {
		t.Fatal("pipeline 0 roles wrong")
	}
	if !g.isConsumer(1) || g.isProducer(1) {
		t.Fatal("pipeline 1 roles wrong")
	}
}

func TestArrowForkInsideLoopRejected(t *testing.T) {
	_, err := Compile(`LOOP 2 TIMES { INPUT FROM echo[data="x"] -> bus };`, nil)
	if !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
}
