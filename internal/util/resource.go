package util

import (
	"fmt"
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Resource records arrive as decoded JSON (map[string]interface{}), the same
// shape the unstructured helpers operate on.

// SafeNestedMap returns the nested map, or nil if missing.
func SafeNestedMap(obj map[string]interface{}, fields ...string) map[string]interface{} {
	if obj == nil {
		return nil
	}
	val, found, err := unstructured.NestedMap(obj, fields...)
	if err != nil || !found {
		return nil
	}
	return val
}

// SafeNestedValue returns whatever is stored at the path without copying, or nil.
func SafeNestedValue(obj map[string]interface{}, fields ...string) interface{} {
	if obj == nil {
		return nil
	}
	val, found, err := unstructured.NestedFieldNoCopy(obj, fields...)
	if err != nil || !found {
		return nil
	}
	return val
}

// SafeNestedFloat returns the number at the path. JSON numbers decode as
// float64; numeric strings are parsed. Returns (0, false) when absent.
func SafeNestedFloat(obj map[string]interface{}, fields ...string) (float64, bool) {
	return ToFloat(SafeNestedValue(obj, fields...))
}

// SafeStringFromMap extracts a string value from a map by key.
// Returns "" if key is missing or value is not a string.
func SafeStringFromMap(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	val, ok := m[key]
	if !ok {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}

// ToFloat converts JSON-ish scalars to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Stringify renders a scalar for use as a group name or tag value.
// Returns "" for nil, empty strings and empty collections.
func Stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []interface{}:
		if len(x) == 0 {
			return ""
		}
		return fmt.Sprint(x...)
	case map[string]interface{}:
		if len(x) == 0 {
			return ""
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
