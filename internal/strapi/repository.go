package strapi

import (
	"context"
	"fmt"
)

// Model is anything backed by a record, typed wrappers embed *Record.
type Model interface {
	Rec() *Record
}

// Repository is the typed view of one collection.
type Repository[T Model] struct {
	client *Client
	entity *Entity
	wrap   func(*Record) T
}

func NewRepository[T Model](client *Client, entity *Entity, wrap func(*Record) T) Repository[T] {
	return Repository[T]{client: client, entity: entity, wrap: wrap}
}

func (r Repository[T]) Entity() *Entity {
	return r.entity
}

func (r Repository[T]) wrapAll(records []*Record) []T {
	out := make([]T, len(records))
	for i, rec := range records {
		out[i] = r.wrap(rec)
	}
	return out
}

// List returns every record of the collection with relations populated.
func (r Repository[T]) List(ctx context.Context) ([]T, error) {
	records, err := r.client.Query(ctx, r.entity)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(records), nil
}

// ListDepth is List with relations populated up to depth levels, depth <= 0
// is the same as List.
func (r Repository[T]) ListDepth(ctx context.Context, depth int) ([]T, error) {
	records, err := r.client.QueryDepth(ctx, r.entity, depth)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(records), nil
}

// Where returns every record matching all filters.
func (r Repository[T]) Where(ctx context.Context, filters ...Filter) ([]T, error) {
	records, err := r.client.Query(ctx, r.entity, filters...)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(records), nil
}

// Get returns the record with the given id, found=false if there is none.
func (r Repository[T]) Get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	rec, err := r.client.Fetch(ctx, r.entity, id)
	if err != nil || rec == nil {
		return zero, false, err
	}
	return r.wrap(rec), true, nil
}

// FindOne returns the only record matching filters. More than one match is
// an AmbiguousResultError, never an arbitrary pick.
func (r Repository[T]) FindOne(ctx context.Context, filters ...Filter) (T, bool, error) {
	var zero T
	records, err := r.client.Query(ctx, r.entity, filters...)
	if err != nil {
		return zero, false, err
	}
	switch len(records) {
	case 0:
		return zero, false, nil
	case 1:
		return r.wrap(records[0]), true, nil
	}
	return zero, false, &AmbiguousResultError{
		Entity:  r.entity.Name,
		Filters: filters,
		Count:   len(records),
	}
}

func (r Repository[T]) naturalKey(rec *Record) ([]Filter, error) {
	if len(r.entity.NaturalKey) == 0 {
		return nil, &PreconditionError{
			Op:     "get or create " + r.entity.Name,
			Reason: "entity has no natural key",
		}
	}
	filters := make([]Filter, len(r.entity.NaturalKey))
	for i, key := range r.entity.NaturalKey {
		v, ok := rec.Get(key)
		if !ok {
			return nil, &PreconditionError{
				Op:     "get or create " + r.entity.Name,
				Reason: fmt.Sprintf("natural key field %s is not set", key),
			}
		}
		filters[i] = Eq(key, v)
	}
	return filters, nil
}

// GetOrCreate looks the model up by its entity's natural key and creates it
// when nothing matches. Callers in this process are serialized per entity
// type from the lookup through the create.
func (r Repository[T]) GetOrCreate(ctx context.Context, model T) (T, bool, error) {
	var zero T
	filters, err := r.naturalKey(model.Rec())
	if err != nil {
		return zero, false, err
	}

	lock := r.client.lock(r.entity.Name)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := r.FindOne(ctx, filters...)
	if err != nil {
		return zero, false, err
	}
	if found {
		return existing, false, nil
	}
	err = r.client.Create(ctx, model.Rec())
	if err != nil {
		return zero, false, err
	}
	return model, true, nil
}

func (r Repository[T]) Create(ctx context.Context, model T) error {
	return r.client.Create(ctx, model.Rec())
}

func (r Repository[T]) Update(ctx context.Context, model T, partial map[string]Value) error {
	return r.client.Update(ctx, model.Rec(), partial)
}

func (r Repository[T]) Delete(ctx context.Context, model T) error {
	return r.client.Delete(ctx, model.Rec())
}
