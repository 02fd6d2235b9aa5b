package pipe

import (
	"context"
	"reflect"

	"github.com/chatterflow/chatterflow/pkg/fields"
)

// FieldMap is the field-mapping segment variant: for each item it extracts
// a dotted-path field, applies Fn to the value, and either replaces the
// item with the result or assigns it back under AppendAs. When MultiEmit is
// set and Fn returns a slice, one copy of the item is emitted per element
// with the assigned field substituted.
type FieldMap struct {
	Base
	Field         string
	AppendAs      string
	Fn            func(rt *Runtime, value any) (any, error)
	FailOnMissing bool
	Default       any
	MultiEmit     bool
}

// NewFieldMap builds a field-mapping segment over a value function.
func NewFieldMap(field, appendAs string, fn func(rt *Runtime, value any) (any, error)) *FieldMap {
	return &FieldMap{Field: field, AppendAs: appendAs, Fn: fn, FailOnMissing: true}
}

// Transform applies the mapping item by item.
func (f *FieldMap) Transform(ctx context.Context, in Iterator) Iterator {
	var queue []Item
	return IteratorFunc(func(ctx context.Context) (Item, error) {
		for {
			if len(queue) > 0 {
				out := queue[0]
				queue = queue[1:]
				return out, nil
			}
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			outs, err := f.apply(item)
			if err != nil {
				return nil, err
			}
			queue = outs
		}
	})
}

func (f *FieldMap) apply(item Item) ([]Item, error) {
	value, err := fields.ExtractWith(item, f.Field, fields.ExtractOpts{
		FailOnMissing: f.FailOnMissing,
		Default:       f.Default,
	})
	if err != nil {
		return nil, DataErrorf("extract %q: %v", f.Field, err)
	}
	result, err := f.Fn(f.Runtime(), value)
	if err != nil {
		return nil, err
	}

	if f.MultiEmit {
		if elems, ok := asSlice(result); ok {
			out := make([]Item, 0, len(elems))
			for _, el := range elems {
				emitted, err := f.emit(item, el)
				if err != nil {
					return nil, err
				}
				out = append(out, emitted)
			}
			return out, nil
		}
	}

	emitted, err := f.emit(item, result)
	if err != nil {
		return nil, err
	}
	return []Item{emitted}, nil
}

func (f *FieldMap) emit(item Item, result any) (Item, error) {
	if f.AppendAs == "" {
		return result, nil
	}
	target := item
	if m, ok := item.(map[string]any); ok {
		clone := make(map[string]any, len(m)+1)
		for k, v := range m {
			clone[k] = v
		}
		target = clone
	}
	out, err := fields.Assign(target, f.AppendAs, result)
	if err != nil {
		return nil, DataErrorf("assign %q: %v", f.AppendAs, err)
	}
	return out, nil
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
