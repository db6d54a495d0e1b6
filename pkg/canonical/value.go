// Package canonical implements a closed JSON-compatible value type and a
// deterministic byte encoding for it. Equal logical content always encodes to
// identical bytes, independent of map insertion order.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Kind discriminates the variants of Value.
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
		return "unknown"
	}
}

type numberKind uint8

const (
	numInt numberKind = iota
	numUint
	numFloat
)

// Value is an immutable JSON-compatible value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	nk   numberKind
	i    int64
	u    uint64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value           { return Value{} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindNumber, nk: numInt, i: i} }
func Uint(u uint64) Value   { return Value{kind: KindNumber, nk: numUint, u: u} }
func Float(f float64) Value { return Value{kind: KindNumber, nk: numFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map returns a map value holding a copy of fields.
func Map(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsInt64 reports the value as an int64 when it is a number that fits exactly.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	switch v.nk {
	case numInt:
		return v.i, true
	case numUint:
		if v.u > math.MaxInt64 {
			return 0, false
		}
		return int64(v.u), true
	default:
		if v.f != math.Trunc(v.f) || math.Abs(v.f) > maxExactFloat {
			return 0, false
		}
		return int64(v.f), true
	}
}

// AsUint64 reports the value as a uint64 when it is a non-negative number that fits exactly.
func (v Value) AsUint64() (uint64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	switch v.nk {
	case numUint:
		return v.u, true
	case numInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	default:
		if v.f < 0 || v.f != math.Trunc(v.f) || v.f > maxExactFloat {
			return 0, false
		}
		return uint64(v.f), true
	}
}

func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	switch v.nk {
	case numInt:
		return float64(v.i), true
	case numUint:
		return float64(v.u), true
	default:
		return v.f, true
	}
}

// Len returns the number of elements of a list or map, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns the i-th list element. It panics if v is not a list or i is out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindList {
		panic(fmt.Sprintf("canonical: Index on %s value", v.kind))
	}
	return v.list[i]
}

// Get returns the field stored under key when v is a map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[key]
	return f, ok
}

// Keys returns the map keys in canonical order.
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

// With returns a copy of the map v with key set to field. A non-map v is
// treated as an empty map.
func (v Value) With(key string, field Value) Value {
	out := make(map[string]Value, len(v.m)+1)
	if v.kind == KindMap {
		for k, f := range v.m {
			out[k] = f
		}
	}
	out[key] = field
	return Value{kind: KindMap, m: out}
}

// Interface converts v into plain Go values: nil, bool, int64, uint64,
// float64, string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		switch v.nk {
		case numInt:
			return v.i
		case numUint:
			return v.u
		default:
			return v.f
		}
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether v and other encode to the same canonical bytes.
// Values that cannot be encoded are never equal.
func (v Value) Equal(other Value) bool {
	a, err := Encode(v)
	if err != nil {
		return false
	}
	b, err := Encode(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (v Value) String() string {
	b, err := Encode(v)
	if err != nil {
		return "<unencodable>"
	}
	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	return Encode(v)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromJSON decodes a single JSON document into a Value, keeping number literals exact.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("canonical: invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("canonical: invalid JSON: trailing data after document")
	}
	return FromAny(raw)
}

// MustFromAny is like FromAny but panics on error. Intended for literals in tests and setup code.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// FromAny converts a Go value into a Value. Structs and other types not handled
// directly are converted through their JSON representation; values that cannot
// be marshaled to JSON yield an *EncodingError.
func FromAny(x any) (Value, error) {
	return fromAny(x, "$")
}

func fromAny(x any, path string) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		// Keep the shortest float32 decimal so 0.1 stays 0.1 after widening.
		f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(t), 'g', -1, 32), 64)
		return finiteFloat(f, path)
	case float64:
		return finiteFloat(t, path)
	case json.Number:
		return parseNumber(t.String(), path)
	case []Value:
		return List(t...), nil
	case map[string]Value:
		return Map(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := fromAny(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := fromAny(item, path+"."+k)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: KindMap, m: fields}, nil
	case map[string]string:
		fields := make(map[string]Value, len(t))
		for k, s := range t {
			fields[k] = String(s)
		}
		return Value{kind: KindMap, m: fields}, nil
	default:
		return viaJSON(x, path)
	}
}

func viaJSON(x any, path string) (Value, error) {
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}, encodingError(path, fmt.Sprintf("unsupported type %T", x), err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Value{}, encodingError(path, fmt.Sprintf("unsupported type %T", x), err)
	}
	return fromAny(generic, path)
}

func finiteFloat(f float64, path string) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, encodingError(path, "non-finite number", nil)
	}
	return Float(f), nil
}

func parseNumber(lit, path string) (Value, error) {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Int(i), nil
	}
	if u, err := strconv.ParseUint(lit, 10, 64); err == nil {
		return Uint(u), nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Value{}, encodingError(path, fmt.Sprintf("invalid number literal %q", lit), err)
	}
	return finiteFloat(f, path)
}
