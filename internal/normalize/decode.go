package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// maxDecodeDepth bounds recursion on hostile or cyclic-looking payloads.
const maxDecodeDepth = 32

// Parse decodes a raw JSON document and then expands any strings inside it
// that themselves hold JSON objects or arrays.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return DecodeNested(v), nil
}

// DecodeNested walks v and replaces every string whose trimmed text parses as
// a JSON object or array with the decoded structure, recursively. Strings
// holding scalars ("500", "true") are left untouched so identifiers and
// free text keep their textual form.
func DecodeNested(v Value) Value {
	return decodeNested(v, 0)
}

func decodeNested(v Value, depth int) Value {
	if depth > maxDecodeDepth {
		return v
	}
	switch v.kind {
	case KindString:
		inner, ok := decodeStructured(v.str)
		if !ok {
			return v
		}
		return decodeNested(inner, depth+1)
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = decodeNested(item, depth+1)
		}
		return List(items...)
	case KindMap:
		fields := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			fields[k] = decodeNested(item, depth+1)
		}
		return Map(fields)
	default:
		return v
	}
}

func decodeStructured(s string) (Value, bool) {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return Value{}, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(t)))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, false
	}
	if dec.More() {
		return Value{}, false
	}
	return FromAny(x), true
}

// Summarize renders v as compact JSON capped at limit bytes, for logs.
func Summarize(v Value, limit int) string {
	b, err := json.Marshal(v.Any())
	if err != nil {
		return fmt.Sprintf("<unencodable %s>", v.kind)
	}
	if limit > 0 && len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
