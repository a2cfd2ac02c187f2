package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNested_DoublyEncoded(t *testing.T) {
	inner := `{"a": "[1, 2, {\"b\": true}]"}`
	outer, err := json.Marshal(map[string]string{"payload": inner})
	require.NoError(t, err)

	v, err := Parse(outer)
	require.NoError(t, err)

	res := Resolve(v, "x", []string{"payload", "a", "2", "b"})
	require.True(t, res.OK())
	b, ok := res.Value.AsBool()
	assert.True(t, ok)
	assert.True(t, b)
}

func TestDecodeNested_LeavesScalarStrings(t *testing.T) {
	v := DecodeNested(Map(map[string]Value{
		"id":     String("12345"),
		"flag":   String("true"),
		"broken": String("{not json"),
	}))

	id, _ := v.m["id"].AsString()
	assert.Equal(t, "12345", id)
	assert.Equal(t, KindString, v.m["flag"].Kind())
	assert.Equal(t, KindString, v.m["broken"].Kind())
}

func TestValue_JSONRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"n": 1.5, "l": [null, "x"], "ok": false}`), &v))
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"l", "n", "ok"}, v.Keys())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1.5, "l": [null, "x"], "ok": false}`, string(out))
}

func TestSummarize_Truncates(t *testing.T) {
	v := String("abcdefghijklmnopqrstuvwxyz")
	assert.Equal(t, `"abcdefghi...`, Summarize(v, 10))
}
