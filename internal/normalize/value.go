// Package normalize turns a raw, arbitrarily nested extraction tree into a
// canonical listing using a per-site field config. It performs no I/O and
// never fails: absent paths become FieldMissing diagnostics and the affected
// fields fall back to their defaults.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a node of a raw extraction tree.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func Map(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Index steps one level into v. Maps are indexed by key; lists accept a
// base-10 position. Anything else has no children.
func (v Value) Index(key string) (Value, bool) {
	switch v.kind {
	case KindMap:
		child, ok := v.m[key]
		return child, ok
	case KindList:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v.list) {
			return Value{}, false
		}
		return v.list[i], true
	default:
		return Value{}, false
	}
}

// FromAny converts the output of encoding/json (with or without UseNumber)
// into a Value. Unsupported types become Null.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromAny(item)
		}
		return Map(fields)
	case Value:
		return t
	default:
		return Null()
	}
}

// Any converts v back into plain Go values suitable for encoding/json.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes one JSON document without decoding embedded strings.
// Use DecodeNested afterwards for doubly-encoded payloads.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return fmt.Errorf("decoding raw value: %w", err)
	}
	*v = FromAny(x)
	return nil
}

// Keys returns the map keys of v in sorted order, or nil for non-maps.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
