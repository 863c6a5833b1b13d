package strapi

import (
	"fmt"
	"net/url"
	"strconv"
)

// Filter is an equality constraint on one field.
type Filter struct {
	Field string
	Value Value
}

func Eq(field string, v Value) Filter {
	return Filter{Field: field, Value: v}
}

// EqStr is a shorthand for the common string case.
func EqStr(field, s string) Filter {
	return Filter{Field: field, Value: StringValue(s)}
}

// filterParams writes filters in the backend's query syntax, references go
// through the target entity's FilterHook when there is one.
func filterParams(e *Entity, filters []Filter, params url.Values) error {
	for _, f := range filters {
		field, declared := e.Field(f.Field)
		if !declared {
			return &PreconditionError{
				Op:     "filter " + e.Name,
				Reason: fmt.Sprintf("unknown field %s", f.Field),
			}
		}
		key, value, err := filterParam(e, field, f.Value)
		if err != nil {
			return err
		}
		params.Add(key, value)
	}
	return nil
}

func filterParam(e *Entity, field Field, v Value) (key, value string, err error) {
	name := field.Name
	switch v.Kind() {
	case KindNull:
		return fmt.Sprintf("filters[%s][$null]", name), "true", nil
	case KindRef:
		ref, _ := v.Ref()
		if target, ok := RelationTarget(field.Type); ok {
			if te, known := e.Registry().Lookup(target); known && te.FilterHook != nil {
				key, value = te.FilterHook(name, ref)
				return key, value, nil
			}
		}
		return fmt.Sprintf("filters[%s][id][$eq]", name), strconv.FormatInt(ref.ID, 10), nil
	case KindRefList:
		return "", "", &PreconditionError{
			Op:     "filter " + e.Name,
			Reason: fmt.Sprintf("%s: cannot filter by a list of references", name),
		}
	case KindCustom:
		c, _ := v.Custom()
		if fs, ok := c.(FilterSerializer); ok {
			key, value = fs.FilterParam(name)
			return key, value, nil
		}
	case KindBool:
		b, _ := v.Bool()
		return fmt.Sprintf("filters[%s][$eq]", name), strconv.FormatBool(b), nil
	}
	return fmt.Sprintf("filters[%s][$eq]", name), fmt.Sprint(v.Wire()), nil
}
