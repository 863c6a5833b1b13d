package strapi

import (
	"errors"
	"fmt"
)

// Record is one typed entry of a collection. It has no identity until it is
// created or hydrated from the backend.
type Record struct {
	Entity *Entity

	id     int64
	hasID  bool
	fields map[string]Value
	extra  map[string]any
}

// NewRecord builds a not yet persisted record, every key of fields must be a
// declared field of e.
func NewRecord(e *Entity, fields map[string]Value) *Record {
	r := &Record{
		Entity: e,
		fields: make(map[string]Value, len(fields)),
		extra:  map[string]any{},
	}
	for name, v := range fields {
		r.Set(name, v)
	}
	return r
}

// Rec makes *Record satisfy Model so generic code can accept raw records and
// typed wrappers alike.
func (r *Record) Rec() *Record {
	return r
}

func (r *Record) ID() (int64, bool) {
	return r.id, r.hasID
}

func (r *Record) SetID(id int64) {
	r.id = id
	r.hasID = true
}

func (r *Record) ClearID() {
	r.id = 0
	r.hasID = false
}

// Get returns the value of a field, fields that were never set read as null
// with ok=false.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.fields[name]
	if !ok {
		return NullValue(), false
	}
	return v, true
}

func (r *Record) Set(name string, v Value) {
	if _, declared := r.Entity.Field(name); !declared {
		panic(fmt.Sprintf("strapi: %s has no field %s", r.Entity.Name, name))
	}
	r.fields[name] = v
}

func (r *Record) Unset(name string) {
	delete(r.fields, name)
}

// Extra returns a key of the wire payload that the schema does not declare.
func (r *Record) Extra(key string) (any, bool) {
	v, ok := r.extra[key]
	return v, ok
}

func (r *Record) Str(name string) string {
	v, _ := r.Get(name)
	s, _ := v.Str()
	return s
}

func (r *Record) Int(name string) (int64, bool) {
	v, _ := r.Get(name)
	return v.Int()
}

func (r *Record) Ref(name string) (Ref, bool) {
	v, _ := r.Get(name)
	return v.Ref()
}

func (r *Record) Refs(name string) []Ref {
	v, _ := r.Get(name)
	refs, _ := v.Refs()
	return refs
}

func (r *Record) Custom(name string) Custom {
	v, _ := r.Get(name)
	c, _ := v.Custom()
	return c
}

// Same reports whether both records describe the same logical entity, by id
// when both have one and by natural key otherwise.
func (r *Record) Same(o *Record) bool {
	if r.Entity != o.Entity {
		return false
	}
	if r.hasID && o.hasID {
		return r.id == o.id
	}
	if len(r.Entity.NaturalKey) == 0 {
		return false
	}
	for _, key := range r.Entity.NaturalKey {
		left, lok := r.Get(key)
		right, rok := o.Get(key)
		if !lok || !rok || !left.Equal(right) {
			return false
		}
	}
	return true
}

// Equal compares identity and every declared field.
func (r *Record) Equal(o *Record) bool {
	if r.Entity != o.Entity || r.hasID != o.hasID || r.id != o.id {
		return false
	}
	for _, f := range r.Entity.Fields {
		left, lok := r.Get(f.Name)
		right, rok := o.Get(f.Name)
		if lok != rok || !left.Equal(right) {
			return false
		}
	}
	return true
}

func (r *Record) Clone() *Record {
	c := &Record{
		Entity: r.Entity,
		id:     r.id,
		hasID:  r.hasID,
		fields: make(map[string]Value, len(r.fields)),
		extra:  make(map[string]any, len(r.extra)),
	}
	for k, v := range r.fields {
		c.fields[k] = v
	}
	for k, v := range r.extra {
		c.extra[k] = v
	}
	return c
}

// absorb copies everything the server returned onto r, fields missing from
// the response keep their local value.
func (r *Record) absorb(server *Record) {
	if server.hasID {
		r.SetID(server.id)
	}
	for k, v := range server.fields {
		r.fields[k] = v
	}
	for k, v := range server.extra {
		r.extra[k] = v
	}
}

// envelope peels {data: ...} and {id, attributes} wrappers off a wire object.
func envelope(e *Entity, obj map[string]any) (id int64, hasID bool, attrs map[string]any, err error) {
	if data, wrapped := obj["data"]; wrapped && len(obj) <= 2 {
		if _, declared := e.Field("data"); !declared {
			inner, ok := data.(map[string]any)
			if !ok {
				return 0, false, nil, fmt.Errorf("%s: data is %T, not an object", e.Name, data)
			}
			obj = inner
		}
	}

	if rawID, present := obj["id"]; present {
		id, hasID = asInt(rawID)
		if !hasID {
			return 0, false, nil, &InvalidFieldError{Field: "id", Expected: "int", Raw: rawID}
		}
	}

	if nested, ok := obj["attributes"].(map[string]any); ok {
		return id, hasID, nested, nil
	}
	attrs = make(map[string]any, len(obj))
	for k, v := range obj {
		if k != "id" {
			attrs[k] = v
		}
	}
	return id, hasID, attrs, nil
}

func fromWire(e *Entity, obj map[string]any, lenient bool) (*Record, []error) {
	id, hasID, attrs, err := envelope(e, obj)
	if err != nil {
		return nil, []error{err}
	}

	r := &Record{
		Entity: e,
		id:     id,
		hasID:  hasID,
		fields: make(map[string]Value, len(e.Fields)),
		extra:  map[string]any{},
	}
	var errs []error
	for _, f := range e.Fields {
		raw, present := attrs[f.Name]
		if !present {
			continue
		}
		v, err := e.Registry().Coerce(f.Name, raw, f.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			if !lenient {
				return nil, errs
			}
			continue
		}
		r.fields[f.Name] = v
	}
	for k, v := range attrs {
		if _, declared := e.Field(k); !declared {
			r.extra[k] = v
		}
	}
	return r, errs
}

// FromWire coerces a wire object into a record, the first field that does
// not fit its descriptor aborts construction.
func FromWire(e *Entity, obj map[string]any) (*Record, error) {
	r, errs := fromWire(e, obj, false)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return r, nil
}

// FromWireLenient skips fields that fail coercion and returns them joined.
func FromWireLenient(e *Entity, obj map[string]any) (*Record, error) {
	r, errs := fromWire(e, obj, true)
	if r == nil {
		return nil, errs[0]
	}
	return r, errors.Join(errs...)
}

// ToWire flattens the record into a plain json object, relations become
// ids and custom values their codec wire form.
func (r *Record) ToWire() map[string]any {
	out := make(map[string]any, len(r.fields)+len(r.extra)+1)
	for k, v := range r.extra {
		out[k] = v
	}
	for k, v := range r.fields {
		out[k] = v.Wire()
	}
	if r.hasID {
		out["id"] = r.id
	}
	return out
}

// payload is the body sent on create and update.
func (r *Record) payload() map[string]any {
	out := r.ToWire()
	delete(out, "id")
	for _, key := range r.Entity.ReadOnly {
		delete(out, key)
	}
	return out
}
