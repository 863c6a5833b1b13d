package strapi

import (
	"fmt"
	"sort"
	"strings"
)

type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarInt
	ScalarFloat
	ScalarBool
	// ScalarJSON accepts any json value as is (components, rich text blocks).
	ScalarJSON
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarString:
		return "string"
	case ScalarInt:
		return "int"
	case ScalarFloat:
		return "float"
	case ScalarBool:
		return "bool"
	case ScalarJSON:
		return "json"
	}
	return fmt.Sprintf("scalar(%d)", int(k))
}

// Descriptor declares the semantic type of a field. It is one of Scalar,
// Optional, Reference, ReferenceList or CustomCoercible.
type Descriptor interface {
	descriptor()
	String() string
}

type Scalar struct {
	Kind ScalarKind
}

type Optional struct {
	Inner Descriptor
}

// Reference is a has-one relation to the entity registered under Entity.
type Reference struct {
	Entity string
}

// ReferenceList is a has-many relation to the entity registered under Entity.
type ReferenceList struct {
	Entity string
}

// CustomCoercible delegates both directions of conversion to Codec.
type CustomCoercible struct {
	Codec Codec
}

func (Scalar) descriptor() {}
func (Optional) descriptor() {}
func (Reference) descriptor() {}
func (ReferenceList) descriptor() {}
func (CustomCoercible) descriptor() {}

func (d Scalar) String() string { return d.Kind.String() }
func (d Optional) String() string { return fmt.Sprintf("optional(%s)", d.Inner) }
func (d Reference) String() string { return fmt.Sprintf("reference(%s)", d.Entity) }
func (d ReferenceList) String() string { return fmt.Sprintf("reference_list(%s)", d.Entity) }
func (d CustomCoercible) String() string {
	return fmt.Sprintf("custom(%s)", d.Codec.Name())
}

// Codec owns raw -> typed conversion of a custom type. The typed -> wire
// direction is the Wire method of the value it returns.
type Codec interface {
	Name() string
	// Coerce returns nil for a raw value that represents "no value".
	Coerce(raw any) (Custom, error)
}

// FilterSerializer can be implemented by custom values that filter on
// something other than their wire form (ex. media by hash).
type FilterSerializer interface {
	FilterParam(field string) (key, value string)
}

func String() Descriptor { return Scalar{Kind: ScalarString} }
func Int() Descriptor { return Scalar{Kind: ScalarInt} }
func Float() Descriptor { return Scalar{Kind: ScalarFloat} }
func Bool() Descriptor { return Scalar{Kind: ScalarBool} }
func JSON() Descriptor { return Scalar{Kind: ScalarJSON} }
func Opt(inner Descriptor) Descriptor { return Optional{Inner: inner} }

type Field struct {
	Name string
	Type Descriptor
}

// Entity is the schema of one collection type.
type Entity struct {
	// Name is what Reference / ReferenceList descriptors point at.
	Name string
	// Collection is the plural api id, the endpoint is /api/<Collection>.
	Collection string
	Fields     []Field
	// NaturalKey lists the fields identifying a record before it has an id.
	NaturalKey []string
	// ReadOnly keys are never sent back on create or update.
	ReadOnly []string
	// FilterHook overrides how a reference to this entity is written as a
	// filter, the default is filters[<field>][id][$eq]=<id>.
	FilterHook func(field string, ref Ref) (key, value string)

	index    map[string]int
	registry *Registry
}

func (e *Entity) Endpoint() string {
	return "/api/" + e.Collection
}

func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.index[name]
	if !ok {
		return Field{}, false
	}
	return e.Fields[i], true
}

func (e *Entity) readOnly(key string) bool {
	for _, k := range e.ReadOnly {
		if k == key {
			return true
		}
	}
	return false
}

func (e *Entity) Registry() *Registry {
	return e.registry
}

var defaultReadOnly = []string{"createdAt", "updatedAt"}

// Registry holds every entity schema so relations can be resolved by name,
// including forward and cyclic references.
type Registry struct {
	entities map[string]*Entity
}

func NewRegistry() *Registry {
	return &Registry{entities: map[string]*Entity{}}
}

// Register indexes the entity and binds it to the registry, it panics on
// duplicate names or fields since schemas are static.
func (r *Registry) Register(e *Entity) *Entity {
	if e.Name == "" || e.Collection == "" {
		panic("strapi: entity needs a name and a collection")
	}
	if _, exists := r.entities[e.Name]; exists {
		panic(fmt.Sprintf("strapi: entity %s registered twice", e.Name))
	}

	e.index = make(map[string]int, len(e.Fields))
	for i, f := range e.Fields {
		if f.Name == "id" {
			panic(fmt.Sprintf("strapi: %s declares 'id' as a field", e.Name))
		}
		if _, dup := e.index[f.Name]; dup {
			panic(fmt.Sprintf("strapi: %s declares %s twice", e.Name, f.Name))
		}
		e.index[f.Name] = i
	}
	for _, key := range e.NaturalKey {
		if _, ok := e.index[key]; !ok {
			panic(fmt.Sprintf("strapi: %s natural key %s is not a field", e.Name, key))
		}
	}
	if e.ReadOnly == nil {
		e.ReadOnly = defaultReadOnly
	}
	e.registry = r
	r.entities[e.Name] = e
	return e
}

func (r *Registry) Lookup(name string) (*Entity, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entities[name]
	return e, ok
}

// RelationTarget returns the entity a relation descriptor points at.
func RelationTarget(d Descriptor) (string, bool) {
	switch d := d.(type) {
	case Optional:
		return RelationTarget(d.Inner)
	case Reference:
		return d.Entity, true
	case ReferenceList:
		return d.Entity, true
	}
	return "", false
}

// Validate checks that every relation points at a registered entity.
func (r *Registry) Validate() error {
	var missing []string
	for _, e := range r.entities {
		for _, f := range e.Fields {
			target, ok := RelationTarget(f.Type)
			if !ok {
				continue
			}
			if _, known := r.entities[target]; !known {
				missing = append(missing, fmt.Sprintf("%s.%s -> %s", e.Name, f.Name, target))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("strapi: unknown relation targets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Entities returns every registered entity sorted by name.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
