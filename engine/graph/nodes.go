package graph

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/chatterflow/chatterflow/engine/ops"
	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/fields"
	"github.com/chatterflow/chatterflow/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func init() {
	ops.RegisterSegment("graphWrite", newGraphWrite)
	ops.RegisterSegment("graphNeighbors", newGraphNeighbors)
	ops.RegisterSource("graphList", newGraphList)
}

var (
	storeMu sync.Mutex
	stores  = make(map[string]*GraphStore)
)

func openStore(url, user, pass string) (*GraphStore, error) {
	storeMu.Lock()
	defer storeMu.Unlock()
	if gs, ok := stores[url]; ok {
		return gs, nil
	}
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, err
	}
	gs := New(driver)
	stores[url] = gs
	return gs, nil
}

func resolveStore(params map[string]any, rt *pipe.Runtime) (*GraphStore, error) {
	url := ops.StringParam(params, "url", constString(rt, "NEO4J_URL"))
	if url == "" {
		return nil, pipe.PipelineErrorf("graph: no neo4j url (set url param or NEO4J_URL const)")
	}
	user := ops.StringParam(params, "user", constString(rt, "NEO4J_USER"))
	pass := ops.StringParam(params, "pass", constString(rt, "NEO4J_PASS"))
	gs, err := openStore(url, user, pass)
	if err != nil {
		return nil, pipe.PipelineErrorf("graph: connect %s: %v", url, err)
	}
	return gs, nil
}

func constString(rt *pipe.Runtime, name string) string {
	if v, ok := rt.Const(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// newGraphWrite saves each item as a graph record and passes it through.
// The item's id_field becomes the node ID; remaining map keys become
// string properties.
func newGraphWrite(params map[string]any) (pipe.Segment, error) {
	label := ops.StringParam(params, "label", "Record")
	idField, err := ops.RequiredString(params, "id_field")
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
			gs, err := resolveStore(rawParams, rt)
			if err != nil {
				return nil, err
			}
			id, err := fields.Extract(item, idField)
			if err != nil {
				return nil, pipe.DataErrorf("graphWrite: %v", err)
			}
			rec := Record{
				ID:         fmt.Sprintf("%v", id),
				Label:      label,
				Properties: make(map[string]string),
			}
			if m, ok := item.(map[string]any); ok {
				for k, v := range m {
					if k == idField {
						continue
					}
					rec.Properties[k] = fmt.Sprintf("%v", v)
				}
			}
			if err := gs.SaveRecord(ctx, label, rec); err != nil {
				return nil, pipe.PipelineErrorf("graphWrite: %v", err)
			}
			return item, nil
		})
	}), nil
}

// newGraphNeighbors appends the neighbors of each item's node under
// append_as. The root record is looked up first, so an unknown ID is a
// data error rather than a silently empty neighbor list.
func newGraphNeighbors(params map[string]any) (pipe.Segment, error) {
	idField, err := ops.RequiredString(params, "id_field")
	if err != nil {
		return nil, err
	}
	label := ops.StringParam(params, "label", "Record")
	depth, err := ops.IntParam(params, "depth", 1)
	if err != nil {
		return nil, err
	}
	appendAs := ops.StringParam(params, "append_as", "neighbors")
	rawParams := params

	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			gs, err := resolveStore(rawParams, rt)
			if err != nil {
				return nil, err
			}
			id, err := fields.Extract(item, idField)
			if err != nil {
				return nil, pipe.DataErrorf("graphNeighbors: %v", err)
			}
			root, err := gs.GetRecord(ctx, label, fmt.Sprintf("%v", id))
			if err != nil {
				return nil, pipe.DataErrorf("graphNeighbors: %v", err)
			}
			neighbors, err := gs.Neighbors(ctx, root.ID, depth)
			if err != nil {
				return nil, pipe.PipelineErrorf("graphNeighbors: %v", err)
			}
			out, err := fields.Assign(cloneIfMap(item), appendAs, neighbors)
			if err != nil {
				return nil, pipe.DataErrorf("graphNeighbors: %v", err)
			}
			return out, nil
		})
	}), nil
}

// newGraphList yields one page (limit/offset) of the records stored under a
// label as map items, then ends; later pages are not fetched.
func newGraphList(params map[string]any) (pipe.Source, error) {
	label := ops.StringParam(params, "label", "Record")
	limit, err := ops.IntParam(params, "limit", 100)
	if err != nil {
		return nil, err
	}
	offset, err := ops.IntParam(params, "offset", 0)
	if err != nil {
		return nil, err
	}
	rawParams := params

	return pipe.NewSourceFunc(func(ctx context.Context, rt *pipe.Runtime) pipe.Iterator {
		var queue []pipe.Item
		fetched := false
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if !fetched {
				gs, err := resolveStore(rawParams, rt)
				if err != nil {
					return nil, err
				}
				records, err := gs.ListRecords(ctx, label, repo.ListOpts{Limit: limit, Offset: offset})
				if err != nil {
					return nil, pipe.PipelineErrorf("graphList: %v", err)
				}
				for _, r := range records {
					queue = append(queue, r.AsMap())
				}
				fetched = true
			}
			if len(queue) == 0 {
				return nil, io.EOF
			}
			item := queue[0]
			queue = queue[1:]
			return item, nil
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
