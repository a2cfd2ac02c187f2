package normalize

import (
	"fmt"
	"strings"
)

// FieldMissing reports that a configured key was absent while resolving a
// field's path. Depth is the position of Key in the path.
type FieldMissing struct {
	Field string
	Key   string
	Depth int
}

func (e FieldMissing) Error() string {
	return fmt.Sprintf("field %s: key %q missing at depth %d", e.Field, e.Key, e.Depth)
}

// Lookup is the outcome of resolving one path: either a value or the key that
// was missing.
type Lookup struct {
	Value   Value
	Missing *FieldMissing
}

func (l Lookup) OK() bool { return l.Missing == nil }

// Resolve walks root along keys. Strings met on the way are decoded as nested
// JSON before stepping into them.
func Resolve(root Value, field string, keys []string) Lookup {
	cur := root
	for i, key := range keys {
		if cur.kind == KindString {
			cur = DecodeNested(cur)
		}
		next, ok := cur.Index(key)
		if !ok {
			return Lookup{Missing: &FieldMissing{Field: field, Key: key, Depth: i}}
		}
		cur = next
	}
	if cur.kind == KindString {
		cur = DecodeNested(cur)
	}
	return Lookup{Value: cur}
}

// Narrow applies global tags to the root. A missing tag is reported against
// the pseudo-field "global_tags".
func Narrow(root Value, tags []string) Lookup {
	return Resolve(root, "global_tags", tags)
}

// Diagnostics collects the FieldMissing signals for one raw record.
type Diagnostics []FieldMissing

func (d Diagnostics) Fields() []string {
	out := make([]string, len(d))
	for i, m := range d {
		out[i] = m.Field
	}
	return out
}

func (d Diagnostics) String() string {
	parts := make([]string, len(d))
	for i, m := range d {
		parts[i] = m.Error()
	}
	return strings.Join(parts, "; ")
}
