package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsDeterministic(t *testing.T) {
	data := map[string]any{
		"refNumber": "WO-1042",
		"total":     129.95,
		"lines": []any{
			map[string]any{"name": "Labour", "amount": 80.0},
			map[string]any{"name": "Parts", "amount": 25.0},
		},
	}

	first := Generate(data)
	second := Generate(data)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestGenerateIgnoresKeyOrder(t *testing.T) {
	a := map[string]any{"a": 1.0, "b": "x", "nested": map[string]any{"c": true, "d": 2.0}}
	b := map[string]any{"nested": map[string]any{"d": 2.0, "c": true}, "b": "x", "a": 1.0}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerateIsOrderSensitiveForArrays(t *testing.T) {
	a := map[string]any{"lines": []any{"first", "second"}}
	b := map[string]any{"lines": []any{"second", "first"}}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerateDetectsValueChange(t *testing.T) {
	a := map[string]any{"total": 129.95}
	b := map[string]any{"total": 129.96}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerateFromValue(t *testing.T) {
	type line struct {
		Name   string  `json:"name"`
		Amount float64 `json:"amount"`
	}
	type doc struct {
		RefNumber string  `json:"refNumber"`
		Total     float64 `json:"total"`
		Lines     []line  `json:"lines"`
	}

	v := doc{RefNumber: "WO-7", Total: 42.5, Lines: []line{{Name: "Labour", Amount: 42.5}}}

	first, err := GenerateFromValue(v)
	require.NoError(t, err)
	second, err := GenerateFromValue(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// struct hashing must agree with the equivalent map
	fromMap := Generate(map[string]any{
		"refNumber": "WO-7",
		"total":     42.5,
		"lines":     []any{map[string]any{"name": "Labour", "amount": 42.5}},
	})
	assert.Equal(t, fromMap, first)
}

func TestGenerateFromValueRejectsUnmarshalable(t *testing.T) {
	_, err := GenerateFromValue(make(chan int))
	assert.Error(t, err)
}

func TestHasChanged(t *testing.T) {
	assert.False(t, HasChanged("abc", "abc"))
	assert.True(t, HasChanged("abc", "abd"))
}
