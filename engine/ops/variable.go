package ops

import (
	"context"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

// NewVariableSource yields the current contents of a @variable at
// execution time. The compiler builds one for "INPUT FROM @name".
func NewVariableSource(name string) pipe.Source {
	return pipe.NewSourceFunc(func(ctx context.Context, rt *pipe.Runtime) pipe.Iterator {
		items, ok := rt.Var(name)
		if !ok {
			return pipe.Empty()
		}
		snapshot := make([]pipe.Item, len(items))
		copy(snapshot, items)
		return pipe.FromSlice(snapshot)
	})
}

// NewVariableSink buffers its data input into a list, stores the full
// sequence under the variable name (replacing any prior value), then
// re-emits the items. The compiler builds one for a "@name" stage.
func NewVariableSink(name string) pipe.Segment {
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return &variableSinkIterator{name: name, rt: rt, in: in}
	})
}

type variableSinkIterator struct {
	name   string
	rt     *pipe.Runtime
	in     pipe.Iterator
	buf    pipe.Iterator
	filled bool
}

func (v *variableSinkIterator) Next(ctx context.Context) (pipe.Item, error) {
	if !v.filled {
		items, err := pipe.Collect(ctx, v.in)
		if err != nil {
			return nil, err
		}
		v.rt.SetVar(v.name, items)
		v.buf = pipe.FromSlice(items)
		v.filled = true
	}
	return v.buf.Next(ctx)
}
