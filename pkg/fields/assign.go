package fields

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Assign writes a value under a dotted path. For map items intermediate
// maps are created as needed; for struct pointers the named exported field
// is set. Returns the (possibly newly allocated) item.
func Assign(item any, path string, value any) (any, error) {
	if path == "" || path == WholeItem {
		return value, nil
	}
	parts := strings.Split(path, ".")

	if item == nil {
		item = map[string]any{}
	}

	if m, ok := item.(map[string]any); ok {
		cur := m
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[part] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
		return m, nil
	}

	v := reflect.ValueOf(item)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("cannot assign %q into %T", path, item)
	}
	v = v.Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("cannot descend into %s at %q", v.Kind(), part)
		}
		fv := v.FieldByName(part)
		if !fv.IsValid() {
			fv = v.FieldByName(exportedName(part))
		}
		if !fv.IsValid() {
			return nil, errors.New("no such field: " + part)
		}
		if i == len(parts)-1 {
			if !fv.CanSet() {
				return nil, errors.New("field not settable: " + part)
			}
			val := reflect.ValueOf(value)
			if !val.IsValid() {
				fv.Set(reflect.Zero(fv.Type()))
				return item, nil
			}
			if !val.Type().AssignableTo(fv.Type()) {
				if val.Type().ConvertibleTo(fv.Type()) {
					val = val.Convert(fv.Type())
				} else {
					return nil, fmt.Errorf("cannot assign %T to field %s", value, part)
				}
			}
			fv.Set(val)
			return item, nil
		}
		for fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				return nil, errors.New("nil field: " + part)
			}
			fv = fv.Elem()
		}
		v = fv
	}
	return item, nil
}
