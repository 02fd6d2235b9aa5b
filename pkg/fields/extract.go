// Package fields provides dotted-path access into arbitrary items (maps,
// slices, structs, and zero-argument methods), template filling, key-value
// string parsing, and stable item hashing.
package fields

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrMissing is returned when a path element cannot be resolved and
// fail-on-missing is requested.
var ErrMissing = errors.New("field not found")

// WholeItem is the path that refers to the item itself.
const WholeItem = "_"

// ExtractOpts controls missing-field behavior.
type ExtractOpts struct {
	FailOnMissing bool
	Default       any
}

// Extract resolves a dotted path against an item. Path elements resolve
// left to right over the capability set: map index by string, slice/array
// index by int, exported struct field, and zero-argument method.
func Extract(item any, path string) (any, error) {
	return ExtractWith(item, path, ExtractOpts{FailOnMissing: true})
}

// ExtractWith resolves a dotted path with explicit missing-field handling.
func ExtractWith(item any, path string, opts ExtractOpts) (any, error) {
	if path == "" || path == WholeItem {
		return item, nil
	}
	cur := item
	for _, part := range strings.Split(path, ".") {
		next, err := resolve(cur, part)
		if err != nil {
			if opts.FailOnMissing {
				return nil, fmt.Errorf("%w: %q in path %q: %v", ErrMissing, part, path, err)
			}
			return opts.Default, nil
		}
		cur = next
	}
	return cur, nil
}

func resolve(item any, part string) (any, error) {
	if item == nil {
		return nil, errors.New("nil value")
	}

	// Fast path for the common payload shape.
	if m, ok := item.(map[string]any); ok {
		if v, ok := m[part]; ok {
			return v, nil
		}
		return nil, errors.New("no such key")
	}

	v := reflect.ValueOf(item)

	// Zero-argument methods, on the value or its pointer.
	if mv := methodByName(v, part); mv.IsValid() {
		out := mv.Call(nil)
		if len(out) == 0 {
			return nil, fmt.Errorf("method %s returns nothing", part)
		}
		return out[0].Interface(), nil
	}

	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, errors.New("nil value")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, errors.New("map key is not a string")
		}
		mv := v.MapIndex(reflect.ValueOf(part))
		if !mv.IsValid() {
			return nil, errors.New("no such key")
		}
		return mv.Interface(), nil
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("index %q is not an int", part)
		}
		if idx < 0 || idx >= v.Len() {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, v.Len())
		}
		return v.Index(idx).Interface(), nil
	case reflect.Struct:
		fv := v.FieldByName(part)
		if !fv.IsValid() {
			// Allow lowercase path elements against exported fields.
			fv = v.FieldByName(exportedName(part))
		}
		if !fv.IsValid() || !fv.CanInterface() {
			return nil, errors.New("no such field")
		}
		return fv.Interface(), nil
	default:
		return nil, fmt.Errorf("cannot descend into %s", v.Kind())
	}
}

func methodByName(v reflect.Value, name string) reflect.Value {
	for _, candidate := range []string{name, exportedName(name)} {
		if m := v.MethodByName(candidate); m.IsValid() && m.Type().NumIn() == 0 {
			return m
		}
		if v.CanAddr() {
			if m := v.Addr().MethodByName(candidate); m.IsValid() && m.Type().NumIn() == 0 {
				return m
			}
		}
	}
	return reflect.Value{}
}

func exportedName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
