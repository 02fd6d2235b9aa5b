package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatterflow/chatterflow/engine/ops"
	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/fields"
	"github.com/google/uuid"
)

func init() {
	ops.RegisterSegment("vectorUpsert", newVectorUpsert)
	ops.RegisterSegment("vectorSearch", newVectorSearch)
}

// store cache: one VectorStore per address+collection.
var (
	storeMu sync.Mutex
	stores  = make(map[string]*VectorStore)
)

func openStore(addr, collection string) (*VectorStore, error) {
	storeMu.Lock()
	defer storeMu.Unlock()
	key := addr + "|" + collection
	if vs, ok := stores[key]; ok {
		return vs, nil
	}
	vs, err := New(addr, collection)
	if err != nil {
		return nil, err
	}
	stores[key] = vs
	return vs, nil
}

func resolveAddr(params map[string]any, rt *pipe.Runtime) (string, error) {
	if addr := ops.StringParam(params, "addr", ""); addr != "" {
		return addr, nil
	}
	if v, ok := rt.Const("QDRANT_URL"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", pipe.PipelineErrorf("semantic: no qdrant address (set addr param or QDRANT_URL const)")
}

// toEmbedding coerces the extracted field into []float32. JSON decoding
// yields []any of float64; hosts may hand in []float32 or []float64
// directly.
func toEmbedding(v any) ([]float32, error) {
	switch e := v.(type) {
	case []float32:
		return e, nil
	case []float64:
		out := make([]float32, len(e))
		for i, f := range e {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(e))
		for i, el := range e {
			f, ok := el.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not float64", i, el)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("embedding field is %T, not a float slice", v)
	}
}

// PointID derives a deterministic UUID from an item's identity fields, so
// re-running a script re-writes points instead of duplicating them.
func PointID(item pipe.Item, idFields string) (string, error) {
	digest, err := fields.HashItem(item, fields.HashOpts{
		Algorithm: "SHA256",
		FieldList: idFields,
		UseRepr:   true,
	})
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(digest)).String(), nil
}

// newVectorUpsert stores each item's embedding in Qdrant and passes the
// item through.
func newVectorUpsert(params map[string]any) (pipe.Segment, error) {
	collection, err := ops.RequiredString(params, "collection")
	if err != nil {
		return nil, err
	}
	embeddingField := ops.StringParam(params, "embedding_field", "embedding")
	idFields := ops.StringParam(params, "id_fields", fields.WholeItem)
	rawParams := params

	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			addr, err := resolveAddr(rawParams, rt)
			if err != nil {
				return nil, err
			}
			vs, err := openStore(addr, collection)
			if err != nil {
				return nil, pipe.PipelineErrorf("vectorUpsert: %v", err)
			}

			raw, err := fields.Extract(item, embeddingField)
			if err != nil {
				return nil, pipe.DataErrorf("vectorUpsert: %v", err)
			}
			embedding, err := toEmbedding(raw)
			if err != nil {
				return nil, pipe.DataErrorf("vectorUpsert: %v", err)
			}
			pointID, err := PointID(item, idFields)
			if err != nil {
				return nil, pipe.DataErrorf("vectorUpsert: id hash: %v", err)
			}

			payload := map[string]any{}
			if m, ok := item.(map[string]any); ok {
				for k, v := range m {
					if k == embeddingField {
						continue
					}
					payload[k] = v
				}
			}

			err = vs.Upsert(ctx, []VectorRecord{{
				ID:        pointID,
				Embedding: embedding,
				Payload:   payload,
			}})
			if err != nil {
				return nil, pipe.PipelineErrorf("vectorUpsert: %v", err)
			}
			return item, nil
		})
	}), nil
}

// newVectorSearch runs k-NN search with each item's embedding and appends
// the hits under append_as.
func newVectorSearch(params map[string]any) (pipe.Segment, error) {
	collection, err := ops.RequiredString(params, "collection")
	if err != nil {
		return nil, err
	}
	embeddingField := ops.StringParam(params, "embedding_field", "embedding")
	appendAs := ops.StringParam(params, "append_as", "results")
	k, err := ops.IntParam(params, "k", 10)
	if err != nil {
		return nil, err
	}
	rawParams := params

	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			addr, err := resolveAddr(rawParams, rt)
			if err != nil {
				return nil, err
			}
			vs, err := openStore(addr, collection)
			if err != nil {
				return nil, pipe.PipelineErrorf("vectorSearch: %v", err)
			}
			raw, err := fields.Extract(item, embeddingField)
			if err != nil {
				return nil, pipe.DataErrorf("vectorSearch: %v", err)
			}
			embedding, err := toEmbedding(raw)
			if err != nil {
				return nil, pipe.DataErrorf("vectorSearch: %v", err)
			}
			hits, err := vs.Search(ctx, embedding, k, nil)
			if err != nil {
				return nil, pipe.PipelineErrorf("vectorSearch: %v", err)
			}
			out, err := fields.Assign(cloneIfMap(item), appendAs, hits)
			if err != nil {
				return nil, pipe.DataErrorf("vectorSearch: %v", err)
			}
			return out, nil
		})
	}), nil
}

func cloneIfMap(item pipe.Item) pipe.Item {
	m, ok := item.(map[string]any)
	if !ok {
		return item
	}
	clone := make(map[string]any, len(m)+1)
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
