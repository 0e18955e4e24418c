package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_FieldOrderIndependent(t *testing.T) {
	a := map[string]any{"context": "slow queries", "complexity": "O(n)", "tags": []string{"db"}}
	b := map[string]any{"tags": []string{"db"}, "complexity": "O(n)", "context": "slow queries"}

	ka, err := Key(a)
	require.NoError(t, err)
	kb, err := Key(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 64)
}

func TestKey_NestedMapsSorted(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"z": 1, "a": 2}}
	b := map[string]any{"outer": map[string]any{"a": 2, "z": 1}}

	assert.Equal(t, MustKey(a), MustKey(b))
}

func TestKey_StructAndMapAgree(t *testing.T) {
	type sig struct {
		Context string `json:"context"`
		Level   int    `json:"level"`
	}
	fromStruct := MustKey(sig{Context: "x", Level: 3})
	fromMap := MustKey(map[string]any{"level": 3, "context": "x"})
	assert.Equal(t, fromMap, fromStruct)
}

func TestKey_DifferentValuesDiffer(t *testing.T) {
	a := MustKey(map[string]any{"context": "a"})
	b := MustKey(map[string]any{"context": "b"})
	assert.NotEqual(t, a, b)
}

func TestMarshal_Sorted(t *testing.T) {
	b, err := Marshal(map[string]any{"b": 1, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1}`, string(b))
}

func TestKey_Unserializable(t *testing.T) {
	_, err := Key(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "slow database queries", NormalizeText("  Slow\tDATABASE\n queries "))
	assert.Equal(t, "", NormalizeText("   "))
}
