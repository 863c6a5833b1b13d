package strapi

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coerce converts a raw json value into the semantic type declared by d.
// A nil descriptor means the field is untyped and the value passes through.
// field is only used to label errors.
func (r *Registry) Coerce(field string, raw any, d Descriptor) (Value, error) {
	switch d := d.(type) {
	case nil:
		return coerceOpaque(raw), nil
	case Optional:
		if raw == nil {
			return NullValue(), nil
		}
		return r.Coerce(field, raw, d.Inner)
	case Scalar:
		return coerceScalar(field, raw, d)
	case Reference:
		ref, ok, err := r.coerceRef(raw, d.Entity)
		if err != nil {
			return Value{}, &InvalidFieldError{Field: field, Expected: d.String(), Raw: raw, Err: err}
		}
		if !ok {
			return NullValue(), nil
		}
		return RefValue(ref), nil
	case ReferenceList:
		return r.coerceRefList(field, raw, d)
	case CustomCoercible:
		custom, err := d.Codec.Coerce(raw)
		if err != nil {
			return Value{}, &InvalidFieldError{Field: field, Expected: d.String(), Raw: raw, Err: err}
		}
		return CustomValue(custom), nil
	}
	return Value{}, &InvalidFieldError{
		Field:    field,
		Expected: fmt.Sprintf("known descriptor, got %T", d),
		Raw:      raw,
	}
}

// untyped relations collapse to the id they wrap.
func coerceOpaque(raw any) Value {
	m, ok := raw.(map[string]any)
	if !ok {
		return OpaqueValue(raw)
	}
	data, wrapped := m["data"]
	if !wrapped {
		return OpaqueValue(raw)
	}
	inner, ok := data.(map[string]any)
	if !ok {
		return NullValue()
	}
	id, ok := asInt(inner["id"])
	if !ok {
		return NullValue()
	}
	return IntValue(id)
}

func coerceScalar(field string, raw any, d Scalar) (Value, error) {
	invalid := func() (Value, error) {
		return Value{}, &InvalidFieldError{Field: field, Expected: d.String(), Raw: raw}
	}

	switch d.Kind {
	case ScalarString:
		s, ok := raw.(string)
		if !ok {
			return invalid()
		}
		return StringValue(s), nil
	case ScalarInt:
		i, ok := asInt(raw)
		if !ok {
			return invalid()
		}
		return IntValue(i), nil
	case ScalarFloat:
		f, ok := asNumber(raw)
		if !ok {
			return invalid()
		}
		return NumberValue(f), nil
	case ScalarBool:
		b, ok := raw.(bool)
		if !ok {
			return invalid()
		}
		return BoolValue(b), nil
	case ScalarJSON:
		return OpaqueValue(raw), nil
	}
	return invalid()
}

// coerceRef accepts every shape a has-one relation can arrive in:
//
//	{"data": {"id": 1, "attributes": {...}}}   deep
//	{"id": 1, "attributes": {...}}             deep
//	{"data": {"id": 1}}                        shallow
//	1                                          shallow
//	{"data": null} / null                      no relation (ok=false)
func (r *Registry) coerceRef(raw any, entity string) (Ref, bool, error) {
	if raw == nil {
		return Ref{}, false, nil
	}
	if id, ok := asInt(raw); ok {
		return Ref{ID: id}, true, nil
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return Ref{}, false, fmt.Errorf("unexpected relation shape")
	}
	if data, wrapped := m["data"]; wrapped {
		if data == nil {
			return Ref{}, false, nil
		}
		inner, ok := data.(map[string]any)
		if !ok {
			return Ref{}, false, fmt.Errorf("relation data is %T, not an object", data)
		}
		m = inner
	}
	ref, err := r.refFromObject(m, entity)
	if err != nil {
		return Ref{}, false, err
	}
	return ref, true, nil
}

func (r *Registry) refFromObject(m map[string]any, entity string) (Ref, error) {
	id, ok := asInt(m["id"])
	if !ok {
		return Ref{}, fmt.Errorf("relation without a numeric id")
	}
	if _, deep := m["attributes"].(map[string]any); !deep {
		return Ref{ID: id}, nil
	}
	target, known := r.Lookup(entity)
	if !known {
		return Ref{ID: id}, nil
	}
	record, err := FromWire(target, m)
	if err != nil {
		return Ref{}, fmt.Errorf("populate %s %d: %w", entity, id, err)
	}
	return Ref{ID: id, Record: record}, nil
}

func (r *Registry) coerceRefList(field string, raw any, d ReferenceList) (Value, error) {
	invalid := func(err error) (Value, error) {
		return Value{}, &InvalidFieldError{Field: field, Expected: d.String(), Raw: raw, Err: err}
	}

	items := raw
	if m, ok := raw.(map[string]any); ok {
		data, wrapped := m["data"]
		if !wrapped {
			return invalid(fmt.Errorf("relation list without a data wrapper"))
		}
		items = data
	}
	if items == nil {
		return NullValue(), nil
	}

	list, ok := items.([]any)
	if !ok {
		return invalid(fmt.Errorf("relation data is %T, not a list", items))
	}
	refs := make([]Ref, 0, len(list))
	for i, item := range list {
		ref, ok, err := r.coerceRef(item, d.Entity)
		if err != nil {
			return invalid(fmt.Errorf("item %d: %w", i, err))
		}
		if !ok {
			return invalid(fmt.Errorf("item %d is null", i))
		}
		refs = append(refs, ref)
	}
	return RefListValue(refs), nil
}

func asNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	f, ok := asNumber(raw)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
