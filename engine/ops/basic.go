package ops

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/fields"
)

func init() {
	RegisterSource("echo", newEcho)
	RegisterSource("range", newRange)

	RegisterSegment("print", newPrint)
	RegisterSegment("cast", newCast)
	RegisterSegment("scale", newScale)
	RegisterSegment("firstN", newFirstN)
	RegisterSegment("everyN", newEveryN)
	RegisterSegment("flatten", newFlatten)
	RegisterSegment("toList", newToList)
	RegisterSegment("concat", newConcat)
	RegisterSegment("isIn", newIsIn(true))
	RegisterSegment("isNotIn", newIsIn(false))
	RegisterSegment("sleep", newSleep)
	RegisterSegment("fillTemplate", newFillTemplate)
	RegisterSegment("extract", newExtract)
	RegisterSegment("hash", newHash)
	RegisterSegment("parseKeyValue", newParseKeyValue)
}

// --- Sources ---

// newEcho yields the parts of a delimited string, or the value itself when
// it is not a string.
func newEcho(params map[string]any) (pipe.Source, error) {
	data, ok := params["data"]
	if !ok {
		return nil, pipe.CompileErrorf("echo: missing required parameter %q", "data")
	}
	delim := StringParam(params, "delimiter", ",")
	return pipe.NewSourceFunc(func(ctx context.Context, rt *pipe.Runtime) pipe.Iterator {
		s, isStr := data.(string)
		if !isStr {
			return pipe.Once(data)
		}
		if delim == "" {
			return pipe.Once(s)
		}
		parts := strings.Split(s, delim)
		items := make([]pipe.Item, len(parts))
		for i, p := range parts {
			items[i] = p
		}
		return pipe.FromSlice(items)
	}), nil
}

// newRange yields the integers [lower, upper).
func newRange(params map[string]any) (pipe.Source, error) {
	lower, err := IntParam(params, "lower", 0)
	if err != nil {
		return nil, err
	}
	upper, err := IntParam(params, "upper", 0)
	if err != nil {
		return nil, err
	}
	return pipe.NewSourceFunc(func(ctx context.Context, rt *pipe.Runtime) pipe.Iterator {
		cur := lower
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if cur >= upper {
				return nil, io.EOF
			}
			v := cur
			cur++
			return v, nil
		})
	}), nil
}

// --- Segments ---

// newPrint writes each item to the runtime writer and passes it through.
func newPrint(params map[string]any) (pipe.Segment, error) {
	return pipe.ItemFunc(func(rt *pipe.Runtime, item pipe.Item) (pipe.Item, bool, error) {
		fmt.Fprintln(rt.Writer(), item)
		return item, true, nil
	}), nil
}

// newCast converts items to the requested type. Failures are dropped unless
// fail_silently is off.
func newCast(params map[string]any) (pipe.Segment, error) {
	castType, err := RequiredString(params, "cast_type")
	if err != nil {
		return nil, err
	}
	silent, err := BoolParam(params, "fail_silently", true)
	if err != nil {
		return nil, err
	}
	return pipe.ItemFunc(func(rt *pipe.Runtime, item pipe.Item) (pipe.Item, bool, error) {
		out, castErr := castValue(item, castType)
		if castErr != nil {
			if silent {
				rt.Logger().Debug("cast failed, dropping item", "type", castType, "error", castErr)
				return nil, false, nil
			}
			return nil, false, pipe.DataErrorf("cast to %s: %v", castType, castErr)
		}
		return out, true, nil
	}), nil
}

func castValue(item pipe.Item, castType string) (pipe.Item, error) {
	switch castType {
	case "int":
		switch v := item.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case "float":
		switch v := item.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case "str", "string":
		return fmt.Sprintf("%v", item), nil
	case "bool":
		switch v := item.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		case int:
			return v != 0, nil
		}
	default:
		return nil, fmt.Errorf("unknown cast type %q", castType)
	}
	return nil, fmt.Errorf("cannot cast %T", item)
}

// newScale multiplies numeric items. Integer items with an integral
// multiplier stay integers.
func newScale(params map[string]any) (pipe.Segment, error) {
	mult, err := FloatParam(params, "multiplier", 1)
	if err != nil {
		return nil, err
	}
	return pipe.ItemFunc(func(rt *pipe.Runtime, item pipe.Item) (pipe.Item, bool, error) {
		switch v := item.(type) {
		case int:
			if mult == float64(int(mult)) {
				return v * int(mult), true, nil
			}
			return float64(v) * mult, true, nil
		case int64:
			if mult == float64(int64(mult)) {
				return v * int64(mult), true, nil
			}
			return float64(v) * mult, true, nil
		case float64:
			return v * mult, true, nil
		default:
			return nil, false, pipe.DataErrorf("scale: item %T is not numeric", item)
		}
	}), nil
}

// newFirstN passes through the first n items and stops pulling upstream.
func newFirstN(params map[string]any) (pipe.Segment, error) {
	n, err := IntParam(params, "n", 1)
	if err != nil {
		return nil, err
	}
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		count := 0
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if count >= n {
				return nil, io.EOF
			}
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			count++
			return item, nil
		})
	}), nil
}

// newEveryN passes through every n-th item (1-based).
func newEveryN(params map[string]any) (pipe.Segment, error) {
	n, err := IntParam(params, "n", 1)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, pipe.CompileErrorf("everyN: n must be >= 1")
	}
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		count := 0
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			for {
				item, err := in.Next(ctx)
				if err != nil {
					return nil, err
				}
				count++
				if count%n == 0 {
					return item, nil
				}
			}
		})
	}), nil
}

// newFlatten expands slice items into their elements; scalars pass through.
func newFlatten(params map[string]any) (pipe.Segment, error) {
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		var queue []pipe.Item
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			for {
				if len(queue) > 0 {
					item := queue[0]
					queue = queue[1:]
					return item, nil
				}
				item, err := in.Next(ctx)
				if err != nil {
					return nil, err
				}
				switch v := item.(type) {
				case []pipe.Item:
					queue = append(queue, v...)
				case []string:
					for _, s := range v {
						queue = append(queue, s)
					}
				case []int:
					for _, n := range v {
						queue = append(queue, n)
					}
				default:
					return item, nil
				}
			}
		})
	}), nil
}

// newToList collects the entire stream into a single slice item.
func newToList(params map[string]any) (pipe.Segment, error) {
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		done := false
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if done {
				return nil, io.EOF
			}
			items, err := pipe.Collect(ctx, in)
			if err != nil {
				return nil, err
			}
			done = true
			return items, nil
		})
	}), nil
}

// newConcat joins the named fields of each item into one string.
func newConcat(params map[string]any) (pipe.Segment, error) {
	fieldList, err := RequiredString(params, "fields")
	if err != nil {
		return nil, err
	}
	delim := StringParam(params, "delimiter", "\n\n")
	appendAs := StringParam(params, "append_as", "")
	names := strings.Split(fieldList, ",")
	return pipe.NewFieldMap(fields.WholeItem, appendAs, func(rt *pipe.Runtime, value any) (any, error) {
		parts := make([]string, 0, len(names))
		for _, name := range names {
			v, err := fields.Extract(value, strings.TrimSpace(name))
			if err != nil {
				return nil, pipe.DataErrorf("concat: %v", err)
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return strings.Join(parts, delim), nil
	}), nil
}

// newIsIn filters items on substring (or equality) match of a field.
func newIsIn(keep bool) SegmentFactory {
	return func(params map[string]any) (pipe.Segment, error) {
		field, err := RequiredString(params, "field")
		if err != nil {
			return nil, err
		}
		value, ok := params["value"]
		if !ok {
			return nil, pipe.CompileErrorf("missing required parameter %q", "value")
		}
		return pipe.ItemFunc(func(rt *pipe.Runtime, item pipe.Item) (pipe.Item, bool, error) {
			v, err := fields.ExtractWith(item, field, fields.ExtractOpts{})
			if err != nil {
				return nil, false, err
			}
			match := contains(v, value)
			return item, match == keep, nil
		}), nil
	}
}

func contains(haystack, needle any) bool {
	if hs, ok := haystack.(string); ok {
		return strings.Contains(hs, fmt.Sprintf("%v", needle))
	}
	if elems, ok := haystack.([]any); ok {
		for _, e := range elems {
			if e == needle {
				return true
			}
		}
		return false
	}
	return haystack == needle
}

// newSleep delays each item; useful for pacing demos and tests.
func newSleep(params map[string]any) (pipe.Segment, error) {
	seconds, err := FloatParam(params, "seconds", 1)
	if err != nil {
		return nil, err
	}
	d := time.Duration(seconds * float64(time.Second))
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
			return item, nil
		})
	}), nil
}

// newFillTemplate renders a {field} template against each item.
func newFillTemplate(params map[string]any) (pipe.Segment, error) {
	tmpl, err := RequiredString(params, "template")
	if err != nil {
		return nil, err
	}
	failOnMissing, err := BoolParam(params, "fail_on_missing", false)
	if err != nil {
		return nil, err
	}
	def := StringParam(params, "default", "")
	appendAs := StringParam(params, "append_as", "")
	return pipe.NewFieldMap(fields.WholeItem, appendAs, func(rt *pipe.Runtime, value any) (any, error) {
		var missing []string
		out := fields.FillTemplate(tmpl, func(name string) (any, bool) {
			v, err := fields.Extract(value, name)
			if err != nil {
				missing = append(missing, name)
				if def != "" {
					return def, true
				}
				return nil, false
			}
			return v, true
		})
		if failOnMissing && len(missing) > 0 {
			return nil, pipe.DataErrorf("fillTemplate: missing fields %v", missing)
		}
		return out, nil
	}), nil
}

// newExtract maps each item to a field value, or appends the value back
// under another field.
func newExtract(params map[string]any) (pipe.Segment, error) {
	field, err := RequiredString(params, "field")
	if err != nil {
		return nil, err
	}
	appendAs := StringParam(params, "append_as", "")
	failOnMissing, err := BoolParam(params, "fail_on_missing", true)
	if err != nil {
		return nil, err
	}
	fm := pipe.NewFieldMap(field, appendAs, func(rt *pipe.Runtime, value any) (any, error) {
		return value, nil
	})
	fm.FailOnMissing = failOnMissing
	fm.Default = params["default"]
	fm.MultiEmit = false
	return fm, nil
}

// newHash hashes named fields of each item and appends the hex digest.
func newHash(params map[string]any) (pipe.Segment, error) {
	algorithm := StringParam(params, "algorithm", "MD5")
	fieldList := StringParam(params, "field_list", fields.WholeItem)
	useRepr, err := BoolParam(params, "use_repr", false)
	if err != nil {
		return nil, err
	}
	failOnMissing, err := BoolParam(params, "fail_on_missing", true)
	if err != nil {
		return nil, err
	}
	appendAs := StringParam(params, "append_as", "")
	if _, err := fields.HashItem("probe", fields.HashOpts{Algorithm: algorithm}); err != nil {
		return nil, pipe.CompileErrorf("hash: %v", err)
	}
	return pipe.NewFieldMap(fields.WholeItem, appendAs, func(rt *pipe.Runtime, value any) (any, error) {
		digest, err := fields.HashItem(value, fields.HashOpts{
			Algorithm:     algorithm,
			FieldList:     fieldList,
			UseRepr:       useRepr,
			FailOnMissing: failOnMissing,
			Default:       params["default"],
		})
		if err != nil {
			return nil, pipe.DataErrorf("hash: %v", err)
		}
		return digest, nil
	}), nil
}

// newParseKeyValue parses a key-value string field into a map item.
func newParseKeyValue(params map[string]any) (pipe.Segment, error) {
	field := StringParam(params, "field", fields.WholeItem)
	appendAs := StringParam(params, "append_as", "")
	strict, err := BoolParam(params, "strict", false)
	if err != nil {
		return nil, err
	}
	bareValue := StringParam(params, "bare_value", "")
	return pipe.NewFieldMap(field, appendAs, func(rt *pipe.Runtime, value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, pipe.DataErrorf("parseKeyValue: field is %T, not string", value)
		}
		m, err := fields.ParseKeyValue(s, fields.KeyValueOpts{Strict: strict, BareValue: bareValue})
		if err != nil {
			return nil, pipe.DataErrorf("parseKeyValue: %v", err)
		}
		return m, nil
	}), nil
}
