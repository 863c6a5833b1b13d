package strapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindRef
	KindRefList
	KindCustom
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindRef:
		return "reference"
	case KindRefList:
		return "reference list"
	case KindCustom:
		return "custom"
	case KindOpaque:
		return "opaque"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Custom is a value whose type owns its wire form, see CustomCoercible.
type Custom interface {
	Wire() any
}

// Ref points at another record by id. Deep references also carry the fully
// populated target record.
type Ref struct {
	ID     int64
	Record *Record
}

func (r Ref) Deep() bool {
	return r.Record != nil
}

// Equal compares references by identity only, a shallow and a deep reference
// to the same id are equal.
func (r Ref) Equal(o Ref) bool {
	return r.ID == o.ID
}

// Value is the tagged variant held by every record field.
type Value struct {
	kind   Kind
	str    string
	num    float64
	b      bool
	ref    Ref
	refs   []Ref
	custom Custom
	raw    any
}

func NullValue() Value {
	return Value{kind: KindNull}
}

func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

func IntValue(i int64) Value {
	return Value{kind: KindNumber, num: float64(i)}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func RefValue(ref Ref) Value {
	return Value{kind: KindRef, ref: ref}
}

// RefTo is a shallow reference to id.
func RefTo(id int64) Value {
	return RefValue(Ref{ID: id})
}

// RefToRecord references a persisted record, it panics if the record has no
// identity since nothing could ever be linked to it.
func RefToRecord(r *Record) Value {
	id, ok := r.ID()
	if !ok {
		panic("strapi: reference to a record without identity")
	}
	return RefValue(Ref{ID: id, Record: r})
}

// RefListValue builds a loaded relation, a nil slice is still a loaded (empty)
// relation, use NullValue for "not loaded".
func RefListValue(refs []Ref) Value {
	if refs == nil {
		refs = []Ref{}
	}
	return Value{kind: KindRefList, refs: refs}
}

// CustomValue wraps a custom typed value, a nil custom is null.
func CustomValue(c Custom) Value {
	if c == nil {
		return NullValue()
	}
	return Value{kind: KindCustom, custom: c}
}

func OpaqueValue(raw any) Value {
	if raw == nil {
		return NullValue()
	}
	return Value{kind: KindOpaque, raw: raw}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Int() (int64, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) {
		return 0, false
	}
	return int64(v.num), true
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Ref() (Ref, bool) {
	return v.ref, v.kind == KindRef
}

func (v Value) Refs() ([]Ref, bool) {
	return v.refs, v.kind == KindRefList
}

func (v Value) Custom() (Custom, bool) {
	return v.custom, v.kind == KindCustom
}

func (v Value) Raw() any {
	return v.raw
}

// Wire is the serialization hook of a value: references become ids, custom
// values their own wire form, everything else its plain json value.
func (v Value) Wire() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if i, ok := v.Int(); ok {
			return i
		}
		return v.num
	case KindBool:
		return v.b
	case KindRef:
		return v.ref.ID
	case KindRefList:
		ids := make([]any, len(v.refs))
		for i, r := range v.refs {
			ids[i] = r.ID
		}
		return ids
	case KindCustom:
		return v.custom.Wire()
	case KindOpaque:
		return v.raw
	}
	return nil
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindRef:
		return v.ref.Equal(o.ref)
	case KindRefList:
		if len(v.refs) != len(o.refs) {
			return false
		}
		for i := range v.refs {
			if !v.refs[i].Equal(o.refs[i]) {
				return false
			}
		}
		return true
	case KindCustom, KindOpaque:
		return jsonEqual(v.Wire(), o.Wire())
	}
	return false
}

func jsonEqual(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindRef:
		return fmt.Sprintf("ref(%d)", v.ref.ID)
	}
	return fmt.Sprint(v.Wire())
}
