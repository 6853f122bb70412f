package entitystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/registry/store"
	"github.com/threadmem/memcore/internal/testutil/fakestore"
)

type task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Done     bool   `json:"done"`
}

func newTaskStore(t *testing.T, cacheCfg config.CacheConfig) *Store[task] {
	t.Helper()
	s, err := New(fakestore.New(), "task", func(v *task) string { return v.ID }, cacheCfg)
	require.NoError(t, err)
	return s
}

func TestCreateGetUpdateDelete(t *testing.T) {
	s := newTaskStore(t, config.CacheConfig{})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &task{ID: "t1", Title: "write tests", Priority: 1}))

	err := s.Create(ctx, &task{ID: "t1", Title: "duplicate"})
	var ve *store.ValidationError
	assert.ErrorAs(t, err, &ve, "duplicate id rejected")

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Title)

	require.NoError(t, s.Update(ctx, &task{ID: "t1", Title: "write more tests", Priority: 2}))
	got, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "write more tests", got.Title)
	assert.Equal(t, 2, got.Priority)

	err = s.Update(ctx, &task{ID: "ghost"})
	assert.True(t, store.IsNotFound(err))

	deleted, err := s.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Get(ctx, "t1")
	assert.True(t, store.IsNotFound(err))
}

func TestCreateValidatesID(t *testing.T) {
	s := newTaskStore(t, config.CacheConfig{})
	err := s.Create(context.Background(), &task{Title: "no id"})
	var ve *store.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTaskStore(t, config.CacheConfig{})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &task{ID: "a", Title: "alpha", Priority: 2, Done: true}))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Create(ctx, &task{ID: "b", Title: "beta", Priority: 1, Done: false}))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Create(ctx, &task{ID: "c", Title: "gamma", Priority: 1, Done: true}))

	done, err := s.List(ctx, Query{Equals: map[string]any{"done": true}})
	require.NoError(t, err)
	require.Len(t, done, 2)

	byTitle, err := s.List(ctx, Query{OrderBy: "title", Descending: true})
	require.NoError(t, err)
	require.Len(t, byTitle, 3)
	assert.Equal(t, "gamma", byTitle[0].Title)

	page, err := s.List(ctx, Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID, "insertion order with offset")

	p1, err := s.List(ctx, Query{Equals: map[string]any{"priority": 1}})
	require.NoError(t, err)
	assert.Len(t, p1, 2, "integer filters match JSON numbers")
}

func TestCachedGetInvalidatedByWrite(t *testing.T) {
	s := newTaskStore(t, config.CacheConfig{Enabled: true, MaxSize: 100})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &task{ID: "t1", Title: "v1"}))
	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Title)

	require.NoError(t, s.Update(ctx, &task{ID: "t1", Title: "v2"}))
	got, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title, "update drops the cached value")

	_, err = s.Delete(ctx, "t1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "t1")
	assert.True(t, store.IsNotFound(err), "delete drops the cached value")
}
