package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeNestedValue(t *testing.T) {
	obj := map[string]interface{}{
		"Placement": map[string]interface{}{"n": float64(2)},
	}
	assert.Equal(t, float64(2), SafeNestedValue(obj, "Placement", "n"))
	assert.Nil(t, SafeNestedValue(obj, "Placement", "missing"))
	assert.Nil(t, SafeNestedValue(nil, "Placement"))
}

func TestSafeNestedFloat(t *testing.T) {
	obj := map[string]interface{}{
		"a": float64(1.5),
		"b": "2.25",
		"c": "nope",
	}
	v, ok := SafeNestedFloat(obj, "a")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = SafeNestedFloat(obj, "b")
	assert.True(t, ok)
	assert.Equal(t, 2.25, v)

	_, ok = SafeNestedFloat(obj, "c")
	assert.False(t, ok)

	_, ok = SafeNestedFloat(obj, "missing")
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", "CLOUDOPS", "CLOUDOPS"},
		{"integral float", float64(42), "42"},
		{"fraction", float64(1.5), "1.5"},
		{"bool", true, "true"},
		{"empty slice", []interface{}{}, ""},
		{"empty map", map[string]interface{}{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stringify(tt.in))
		})
	}
}
