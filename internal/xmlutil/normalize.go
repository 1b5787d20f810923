package xmlutil

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	Absent Kind = iota
	Scalar
	Map
	Sequence
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Scalar:
		return "scalar"
	case Map:
		return "map"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// textKey holds an element's own text when it also has other keys.
const textKey = "value"

// Value is the normalized form of an XML element: Absent, a Scalar string,
// a Map of keys to Values, or a Sequence of Values. The zero Value is Absent.
type Value struct {
	kind  Kind
	text  string
	items map[string]Value
	seq   []Value
}

// Kind returns the variant.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is Absent.
func (v Value) IsAbsent() bool { return v.kind == Absent }

// Text returns the scalar text, "" for other kinds.
func (v Value) Text() string { return v.text }

// Get returns the value under key for a Map, Absent otherwise.
func (v Value) Get(key string) Value {
	if v.kind != Map {
		return Value{}
	}
	return v.items[key]
}

// Keys returns a Map's keys, sorted.
func (v Value) Keys() []string {
	if v.kind != Map {
		return nil
	}
	keys := make([]string, 0, len(v.items))
	for k := range v.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the length of a Sequence or the key count of a Map.
func (v Value) Len() int {
	switch v.kind {
	case Sequence:
		return len(v.seq)
	case Map:
		return len(v.items)
	default:
		return 0
	}
}

// Index returns element i of a Sequence, Absent if out of range.
func (v Value) Index(i int) Value {
	if v.kind != Sequence || i < 0 || i >= len(v.seq) {
		return Value{}
	}
	return v.seq[i]
}

// Items returns a Sequence's elements, or v itself as a one-element slice
// for any other non-Absent value.
func (v Value) Items() []Value {
	switch v.kind {
	case Sequence:
		return append([]Value(nil), v.seq...)
	case Absent:
		return nil
	default:
		return []Value{v}
	}
}

// MarshalJSON renders Absent as false, Scalar as a string, Map as an object
// and Sequence as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Scalar:
		return json.Marshal(v.text)
	case Map:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.items[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case Sequence:
		return json.Marshal(v.seq)
	default:
		return []byte("false"), nil
	}
}

// NewScalar returns a Scalar.
func NewScalar(s string) Value { return Value{kind: Scalar, text: s} }

// NewMap returns a Map holding a copy of m.
func NewMap(m map[string]Value) Value {
	items := make(map[string]Value, len(m))
	for k, v := range m {
		items[k] = v
	}
	return Value{kind: Map, items: items}
}

// NewSequence returns a Sequence of vs.
func NewSequence(vs ...Value) Value {
	return Value{kind: Sequence, seq: append([]Value{}, vs...)}
}

// Normalize converts e bottom-up. Attributes become keys, non-empty text
// becomes key "value", and each child is normalized and merged under its
// name: the first occurrence is stored as is, the second turns the key into
// a two-element Sequence, later ones are appended. An element that ends up
// with no keys is Absent; one whose only key is "value" is that Scalar.
func Normalize(e *Element) Value {
	if e == nil {
		return Value{}
	}

	items := make(map[string]Value)
	// seen counts child occurrences per name.
	seen := make(map[string]int)

	for k, a := range e.Attrs {
		items[k] = NewScalar(a)
	}
	if e.Text != "" {
		items[textKey] = NewScalar(e.Text)
	}
	for _, c := range e.Children {
		cv := Normalize(c)
		switch seen[c.Name] {
		case 0:
			items[c.Name] = cv
		case 1:
			items[c.Name] = Value{kind: Sequence, seq: []Value{items[c.Name], cv}}
		default:
			prev := items[c.Name]
			prev.seq = append(prev.seq, cv)
			items[c.Name] = prev
		}
		seen[c.Name]++
	}

	if len(items) == 0 {
		return Value{}
	}
	if only, ok := items[textKey]; ok && len(items) == 1 {
		return only
	}
	return Value{kind: Map, items: items}
}

// listKeys are the listing entries that must always be Sequences.
var listKeys = []string{"Contents", "CommonPrefixes"}

// NormalizeListing normalizes a ListBucketResult document and wraps a lone
// Contents or CommonPrefixes entry into a one-element Sequence, so callers
// can iterate without checking the count.
func NormalizeListing(e *Element) Value {
	v := Normalize(e)
	if v.kind != Map {
		return v
	}
	for _, k := range listKeys {
		entry, ok := v.items[k]
		if !ok || entry.kind == Sequence {
			continue
		}
		v.items[k] = Value{kind: Sequence, seq: []Value{entry}}
	}
	return v
}

// DecodeListing parses a ListBucketResult body into its normalized form.
func DecodeListing(body []byte) (Value, error) {
	root, err := ParseElement(bytes.NewReader(body))
	if err != nil {
		return Value{}, err
	}
	return NormalizeListing(root), nil
}
