// Package content holds the structured value type used for entry bodies and
// the codecs that move it between JSON, YAML front matter and storage.
package content

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged structured value: null, bool, number, string, an ordered
// list, or an ordered map with string keys. Numbers keep their literal text so
// that JSON round-trips are lossless. The zero Value is null.
type Value struct {
	kind  Kind
	b     bool
	s     string
	items []Value
	pairs []Pair
}

// Pair is one key/value member of a map Value.
type Pair struct {
	Key   string
	Value Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns a number value holding i.
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Float returns a number value holding f in its shortest representation.
func Float(f float64) Value {
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number returns a number value from its literal text. The literal must
// parse as a float64.
func Number(literal string) (Value, error) {
	if _, err := strconv.ParseFloat(literal, 64); err != nil {
		return Value{}, fmt.Errorf("invalid number literal %q: %w", literal, err)
	}
	return Value{kind: KindNumber, s: literal}, nil
}

// List returns a list value holding items in order.
func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value{}, items...)}
}

// Map returns a map value holding pairs in order. Later duplicates of a key
// replace the earlier value in place.
func Map(pairs ...Pair) Value {
	v := Value{kind: KindMap, pairs: make([]Pair, 0, len(pairs))}
	for _, p := range pairs {
		v = v.With(p.Key, p.Value)
	}
	return v
}

// EmptyMap returns a map value with no members.
func EmptyMap() Value { return Value{kind: KindMap, pairs: []Pair{}} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsNumber returns the number literal and whether v is a number.
func (v Value) AsNumber() (string, bool) { return v.s, v.kind == KindNumber }

// Float64 parses a number value.
func (v Value) Float64() (float64, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("value is %s, not number", v.kind)
	}
	return strconv.ParseFloat(v.s, 64)
}

// Items returns a copy of a list's elements (nil for non-lists).
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value{}, v.items...)
}

// Pairs returns a copy of a map's members in order (nil for non-maps).
func (v Value) Pairs() []Pair {
	if v.kind != KindMap {
		return nil
	}
	return append([]Pair{}, v.pairs...)
}

// Len returns the number of list elements or map members.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.pairs)
	default:
		return 0
	}
}

// Get looks up key in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, p := range v.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// GetString looks up a string member of a map value.
func (v Value) GetString(key string) (string, bool) {
	m, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return m.AsString()
}

// With returns a copy of map v with key set to val. An existing key keeps its
// position. Calling With on a non-map starts a new map.
func (v Value) With(key string, val Value) Value {
	out := Value{kind: KindMap, pairs: make([]Pair, 0, len(v.pairs)+1)}
	if v.kind == KindMap {
		out.pairs = append(out.pairs, v.pairs...)
	}
	for i := range out.pairs {
		if out.pairs[i].Key == key {
			out.pairs[i].Value = val
			return out
		}
	}
	out.pairs = append(out.pairs, Pair{Key: key, Value: val})
	return out
}

// Equal reports whether a and b hold the same variant and contents. Map
// member order is significant; numbers compare by literal text.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber, KindString:
		return a.s == b.s
	case KindList:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.pairs) != len(b.pairs) {
			return false
		}
		for i := range a.pairs {
			if a.pairs[i].Key != b.pairs[i].Key || !Equal(a.pairs[i].Value, b.pairs[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v as compact JSON for logs and debugging.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid %s>", v.kind)
	}
	return string(b)
}
