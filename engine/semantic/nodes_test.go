package semantic

import (
	"errors"
	"testing"

	"github.com/chatterflow/chatterflow/engine/ops"
	"github.com/chatterflow/chatterflow/engine/pipe"
	pb "github.com/qdrant/go-client/qdrant"
)

func TestNodesRegistered(t *testing.T) {
	if !ops.HasSegment("vectorUpsert") || !ops.HasSegment("vectorSearch") {
		t.Fatal("vector segments not registered")
	}
}

func TestFactoriesRequireCollection(t *testing.T) {
	if _, err := ops.NewSegment("vectorUpsert", map[string]any{}); !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
	if _, err := ops.NewSegment("vectorSearch", map[string]any{}); !errors.Is(err, pipe.ErrCompile) {
		t.Fatalf("got %v", err)
	}
}

func TestToEmbedding(t *testing.T) {
	for _, input := range []any{
		[]float32{1, 2},
		[]float64{1, 2},
		[]any{1.0, 2.0},
	} {
		out, err := toEmbedding(input)
		if err != nil {
			t.Fatalf("%T: %v", input, err)
		}
		if len(out) != 2 || out[0] != 1 || out[1] != 2 {
			t.Fatalf("%T: got %v", input, out)
		}
	}
	if _, err := toEmbedding("nope"); err == nil {
		t.Fatal("expected error for non-slice")
	}
	if _, err := toEmbedding([]any{"x"}); err == nil {
		t.Fatal("expected error for non-float element")
	}
}

func TestPointIDDeterministic(t *testing.T) {
	item := map[string]any{"doc": "a", "chunk": 3}
	id1, err := PointID(item, "doc,chunk")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := PointID(map[string]any{"chunk": 3, "doc": "a"}, "doc,chunk")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("point IDs must be deterministic")
	}
	other, err := PointID(map[string]any{"doc": "b", "chunk": 3}, "doc,chunk")
	if err != nil {
		t.Fatal(err)
	}
	if other == id1 {
		t.Fatal("distinct items must get distinct IDs")
	}
}

func TestPayloadConversionRoundTrip(t *testing.T) {
	payload := ToPayload(map[string]any{
		"s": "x",
		"i": 3,
		"f": 1.5,
		"b": true,
	})
	if payload["s"].GetStringValue() != "x" {
		t.Fatalf("got %v", payload["s"])
	}
	if payload["i"].GetIntegerValue() != 3 {
		t.Fatalf("got %v", payload["i"])
	}
	if payload["f"].GetDoubleValue() != 1.5 {
		t.Fatalf("got %v", payload["f"])
	}
	if payload["b"].GetBoolValue() != true {
		t.Fatalf("got %v", payload["b"])
	}

	for k, v := range payload {
		round := fromValue(v)
		switch k {
		case "s":
			if round != "x" {
				t.Fatalf("s: %v", round)
			}
		case "i":
			if round != int64(3) {
				t.Fatalf("i: %v", round)
			}
		}
	}
}

func TestFromValueFallback(t *testing.T) {
	v := &pb.Value{Kind: &pb.Value_NullValue{}}
	if out := fromValue(v); out == nil {
		t.Fatal("fallback should stringify, not return nil")
	}
}
