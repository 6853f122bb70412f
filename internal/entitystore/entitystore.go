// Package entitystore is a small typed layer over the backend's generic
// entity operations. Hosts use it to persist their own per-agent records
// (task lists, preferences, tool results) next to conversation memory
// without growing the backend interface per type.
package entitystore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/registry/store"
)

// Query filters and paginates List. Backends with server-side document
// filtering (postgres, sqlite) apply it in SQL; the redis adapter filters in
// memory after fetching the kind, which is acceptable for the moderate
// cardinalities entities are meant for.
type Query = store.EntityQuery

// Store persists values of one entity kind. T is the host's own struct; it
// round-trips through encoding/json.
type Store[T any] struct {
	backend store.Backend
	kind    string
	idOf    func(*T) string
	cache   *ristretto.Cache[string, *T]
}

// New builds a store for one kind. idOf extracts the entity id from a value.
// With caching enabled, Get reads through a ristretto cache invalidated
// point-wise on every write.
func New[T any](backend store.Backend, kind string, idOf func(*T) string, cfg config.CacheConfig) (*Store[T], error) {
	s := &Store[T]{backend: backend, kind: kind, idOf: idOf}
	if cfg.Enabled {
		maxSize := int64(cfg.MaxSize)
		if maxSize <= 0 {
			maxSize = 100
		}
		c, err := ristretto.NewCache(&ristretto.Config[string, *T]{
			NumCounters: maxSize * 10,
			MaxCost:     maxSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// Create persists a new entity. An existing id is a ValidationError.
func (s *Store[T]) Create(ctx context.Context, v *T) error {
	id := s.idOf(v)
	if id == "" {
		return &store.ValidationError{Field: "id", Message: "must not be empty"}
	}
	existing, err := s.backend.GetEntity(ctx, s.kind, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return &store.ValidationError{Field: "id", Message: s.kind + " " + id + " already exists"}
	}
	return s.write(ctx, id, v, time.Now().UTC())
}

// Get returns the entity by id, or a NotFoundError.
func (s *Store[T]) Get(ctx context.Context, id string) (*T, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return v, nil
		}
	}
	rec, err := s.backend.GetEntity(ctx, s.kind, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &store.NotFoundError{Resource: s.kind, ID: id}
	}
	v := new(T)
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(id, v, 1)
		s.cache.Wait()
	}
	return v, nil
}

// Update overwrites an existing entity. A missing id is a NotFoundError.
func (s *Store[T]) Update(ctx context.Context, v *T) error {
	id := s.idOf(v)
	existing, err := s.backend.GetEntity(ctx, s.kind, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &store.NotFoundError{Resource: s.kind, ID: id}
	}
	return s.write(ctx, id, v, existing.CreatedAt)
}

// Delete removes the entity, reporting whether it existed.
func (s *Store[T]) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.backend.DeleteEntity(ctx, s.kind, id)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		s.cache.Del(id)
		s.cache.Wait()
	}
	return deleted, nil
}

// List returns entities matching the query.
func (s *Store[T]) List(ctx context.Context, q Query) ([]*T, error) {
	recs, err := s.backend.ListEntities(ctx, s.kind, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Data, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store[T]) write(ctx context.Context, id string, v *T, createdAt time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &store.ValidationError{Field: "data", Message: err.Error()}
	}
	rec := &model.EntityRecord{
		Kind:      s.kind,
		ID:        id,
		Data:      data,
		CreatedAt: createdAt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.backend.PutEntity(ctx, rec); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Del(id)
		s.cache.Wait()
	}
	return nil
}
