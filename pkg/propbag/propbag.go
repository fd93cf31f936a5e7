// Package propbag represents a resource's loosely-typed property bag as a
// navigable value tree. Azure payloads mix key casing between API versions,
// so object lookups are case-insensitive.
package propbag

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBool
)

// Value is one node of a decoded JSON document.
type Value struct {
	kind Kind
	obj  map[string]any
	arr  []any
	str  string
	num  float64
	b    bool
}

// FromJSON decodes raw JSON into a Value tree.
func FromJSON(raw []byte) (Value, error) {
	if len(raw) == 0 {
		return Value{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, err
	}
	return FromAny(v), nil
}

// FromAny wraps an already-decoded JSON value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case map[string]any:
		return Value{kind: KindObject, obj: t}
	case []any:
		return Value{kind: KindArray, arr: t}
	case string:
		return Value{kind: KindString, str: t}
	case float64:
		return Value{kind: KindNumber, num: t}
	case json.Number:
		f, _ := t.Float64()
		return Value{kind: KindNumber, num: f}
	case int:
		return Value{kind: KindNumber, num: float64(t)}
	case bool:
		return Value{kind: KindBool, b: t}
	default:
		return Value{}
	}
}

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null or absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String returns the string payload (empty unless KindString).
func (v Value) String() string { return v.str }

// Number returns the numeric payload (zero unless KindNumber).
func (v Value) Number() float64 { return v.num }

// Bool returns the boolean payload (false unless KindBool).
func (v Value) Bool() bool { return v.b }

// Interface returns the value as a plain decoded-JSON shape, suitable for
// operator comparisons and serialization.
func (v Value) Interface() any {
	switch v.kind {
	case KindObject:
		return v.obj
	case KindArray:
		return v.arr
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Field looks up an object key, case-insensitively. Exact matches win over
// case-variant matches when a payload carries duplicate case-variant keys.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	if child, ok := v.obj[name]; ok {
		return FromAny(child), true
	}
	for k, child := range v.obj {
		if strings.EqualFold(k, name) {
			return FromAny(child), true
		}
	}
	return Value{}, false
}

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return FromAny(v.arr[i]), true
}

// Len returns the array length (zero for non-arrays).
func (v Value) Len() int { return len(v.arr) }

// segment is one parsed step of a property path: a field name followed by
// zero or more index operations.
type segment struct {
	field   string
	indexes []indexOp
}

type indexOp struct {
	wildcard bool
	n        int
}

// Navigate walks a dotted/indexed path like "ipConfigurations[0].publicIPAddress.id"
// or "securityRules[*]". A missing segment at any level yields a null value
// and ok=false, never an error.
func (v Value) Navigate(path string) (Value, bool) {
	if path == "" {
		return v, true
	}

	segs, err := parsePath(path)
	if err != nil {
		return Value{}, false
	}

	current := v
	for _, seg := range segs {
		if seg.field != "" {
			child, ok := current.Field(seg.field)
			if !ok {
				return Value{}, false
			}
			current = child
		}
		for _, idx := range seg.indexes {
			if idx.wildcard {
				// [*] yields the whole array for membership-style operators.
				if current.kind != KindArray {
					return Value{}, false
				}
				continue
			}
			child, ok := current.Index(idx.n)
			if !ok {
				return Value{}, false
			}
			current = child
		}
	}
	return current, true
}

// parsePath splits a path into segments on dots, honoring bracket indexes.
func parsePath(path string) ([]segment, error) {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, strconv.ErrSyntax
		}
		seg := segment{}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if seg.field == "" {
					seg.field = part
				}
				break
			}
			if seg.field == "" {
				seg.field = part[:open]
			}
			closeIdx := strings.IndexByte(part[open:], ']')
			if closeIdx < 0 {
				return nil, strconv.ErrSyntax
			}
			closeIdx += open
			inner := part[open+1 : closeIdx]
			if inner == "*" {
				seg.indexes = append(seg.indexes, indexOp{wildcard: true})
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, err
				}
				seg.indexes = append(seg.indexes, indexOp{n: n})
			}
			part = part[closeIdx+1:]
			if part == "" {
				break
			}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
