package sable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

// Value kinds. The set is closed: anything else is not representable
// and is rejected with ErrStructural during conversion.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

// Value is a tagged-variant document value. Using a closed variant
// type instead of raw interface{} keeps canonicalization total: every
// Value has exactly one canonical encoding.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    *Document
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point value. NaN and Inf are representable
// here but rejected at canonicalization time.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns a sequence value.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Map returns a nested-document value.
func Map(d *Document) Value { return Value{kind: KindMap, m: d} }

// Kind reports the variant held by the value.
func (v Value) Kind() Kind { return v.kind }

// StringValue returns the string payload; ok is false for other kinds.
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }

// IntValue returns the integer payload; ok is false for other kinds.
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) toInterface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		items := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.toInterface()
		}
		return items
	case KindMap:
		return v.m.toInterface()
	default:
		return nil
	}
}

// ValueOf converts a decoded JSON-like Go value into a Value. It
// returns ErrStructural for anything outside the closed variant set.
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, fmt.Errorf("%w: non-finite number", ErrStructural)
		}
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: unparseable number %q", ErrStructural, t.String())
		}
		return ValueOf(f)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]interface{}:
		d := NewDocument()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := ValueOf(t[k])
			if err != nil {
				return Value{}, err
			}
			d.Set(k, v)
		}
		return Map(d), nil
	case Value:
		return t, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrStructural, x)
	}
}

// Document is an ordered mapping of field name to Value. Insertion
// order is preserved for iteration; canonicalization always sorts.
type Document struct {
	names  []string
	values map[string]Value
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set assigns a field, preserving the position of an existing name.
// Returns the document for chaining.
func (d *Document) Set(name string, v Value) *Document {
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = v
	return d
}

// Get returns the value for a field name.
func (d *Document) Get(name string) (Value, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Names returns the field names in insertion order.
func (d *Document) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.names) }

func (d *Document) toInterface() map[string]interface{} {
	m := make(map[string]interface{}, len(d.names))
	for _, name := range d.names {
		m[name] = d.values[name].toInterface()
	}
	return m
}

// Canonical produces the unique deterministic byte encoding of the
// document: keys sorted lexicographically at every nesting level, no
// insignificant whitespace, fixed numeric forms, UTF-8 strings.
// Semantically equal documents always produce identical bytes.
func (d *Document) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	if err := appendCanonical(&buf, d.toInterface()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalHash returns the SHA-256 digest of the canonical encoding.
func (d *Document) CanonicalHash() ([]byte, error) {
	canonical, err := d.Canonical()
	if err != nil {
		return nil, err
	}
	return HashBytes(canonical), nil
}

// Equal reports whether two documents have identical canonical
// encodings.
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	a, err := d.Canonical()
	if err != nil {
		return false
	}
	b, err := other.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// MarshalJSON emits the canonical encoding.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Canonical()
}

// UnmarshalJSON parses a JSON object into the document, preserving
// the field order of the input.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := DocumentFromJSON(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// DocumentFromJSON parses a JSON object into a Document. Numbers are
// kept as int64 when integral. Returns ErrStructural for non-object
// input.
func DocumentFromJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON object: %v", ErrStructural, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document must be a JSON object", ErrStructural)
	}
	v, err := ValueOf(raw)
	if err != nil {
		return nil, err
	}
	return v.m, nil
}

// CanonicalizeJSON produces the deterministic canonical encoding of an
// arbitrary JSON-representable value. Structs are round-tripped
// through encoding/json first, so []byte fields become base64 strings
// exactly as they appear on the wire.
func CanonicalizeJSON(obj interface{}) ([]byte, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}
	var buf bytes.Buffer
	if err := appendCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// appendCanonical writes the canonical encoding of a decoded JSON
// tree. Map keys are sorted lexicographically at every level.
func appendCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		escaped, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStructural, err)
		}
		buf.Write(escaped)
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		return appendCanonicalFloat(buf, t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("%w: unparseable number %q", ErrStructural, t.String())
		}
		return appendCanonicalFloat(buf, f)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			escaped, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStructural, err)
			}
			buf.Write(escaped)
			buf.WriteByte(':')
			if err := appendCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrStructural, v)
	}
	return nil
}

// appendCanonicalFloat writes the fixed numeric form: integral floats
// collapse to their integer representation, everything else uses the
// shortest round-trip decimal.
func appendCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: non-finite number", ErrStructural)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
