package ops

import (
	"fmt"
	"strconv"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

// StringParam returns a string parameter or the fallback.
func StringParam(params map[string]any, key, fallback string) string {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// RequiredString returns a string parameter, erroring when absent.
func RequiredString(params map[string]any, key string) (string, error) {
	if _, ok := params[key]; !ok {
		return "", pipe.CompileErrorf("missing required parameter %q", key)
	}
	return StringParam(params, key, ""), nil
}

// IntParam returns an int parameter or the fallback. Numeric literals from
// the DSL arrive as int or float64.
func IntParam(params map[string]any, key string, fallback int) (int, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, pipe.CompileErrorf("parameter %q: %v", key, err)
		}
		return i, nil
	default:
		return 0, pipe.CompileErrorf("parameter %q: expected int, got %T", key, v)
	}
}

// FloatParam returns a float parameter or the fallback.
func FloatParam(params map[string]any, key string, fallback float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, pipe.CompileErrorf("parameter %q: %v", key, err)
		}
		return f, nil
	default:
		return 0, pipe.CompileErrorf("parameter %q: expected float, got %T", key, v)
	}
}

// BoolParam returns a bool parameter or the fallback.
func BoolParam(params map[string]any, key string, fallback bool) (bool, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, pipe.CompileErrorf("parameter %q: %v", key, err)
		}
		return parsed, nil
	default:
		return false, pipe.CompileErrorf("parameter %q: expected bool, got %T", key, v)
	}
}
