package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadmem/memcore/internal/model"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

// newTestStore opens a fresh database in a temp dir and applies the schema
// the way the migrator does, including the conditional FTS index. Tests
// built without the sqlite_fts5 tag exercise the degraded keyword path.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), "memcore.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(schemaSQL).Error)
	fts := ftsAvailable(db)
	if fts {
		require.NoError(t, db.Exec(ftsSchemaSQL).Error)
	}
	return &SQLiteStore{db: db, fts: fts}
}

func testThread(name string) *model.Thread {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Thread{
		ID:        "thread-" + name,
		Name:      name,
		Metadata:  model.Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func saveTestMessage(t *testing.T, s *SQLiteStore, threadID, content string, embeddingID *string) *model.Message {
	t.Helper()
	m := &model.Message{
		ID:          fmt.Sprintf("msg-%s-%d", threadID, time.Now().UnixNano()),
		ThreadID:    threadID,
		Role:        model.RoleUser,
		Content:     content,
		EmbeddingID: embeddingID,
		Metadata:    model.Metadata{},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveMessage(context.Background(), m))
	return m
}

func TestMigrationWithoutFTSTag(t *testing.T) {
	// newTestStore fails outright if the base schema cannot be applied, so
	// this passes only when migration succeeds under the current build,
	// FTS5 or not.
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	th := testThread("plain")
	require.NoError(t, s.CreateThread(context.Background(), th))
	saveTestMessage(t, s, th.ID, "stored without a keyword index", nil)
	require.NoError(t, s.DeleteThreadMessages(context.Background(), th.ID))
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	th := testThread("alpha")
	require.NoError(t, s.CreateThread(ctx, th))

	var ve *registrystore.ValidationError
	err := s.CreateThread(ctx, th)
	assert.ErrorAs(t, err, &ve, "duplicate id maps to a validation error")

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Name)

	missing, err := s.GetThread(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	name := "renamed"
	updated, err := s.UpdateThread(ctx, th.ID, registrystore.ThreadUpdate{Name: &name})
	require.NoError(t, err)
	assert.True(t, updated)
	updated, err = s.UpdateThread(ctx, "nope", registrystore.ThreadUpdate{Name: &name})
	require.NoError(t, err)
	assert.False(t, updated)

	deleted, err := s.DeleteThread(ctx, th.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteThread(ctx, th.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMessagesSeqAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := testThread("msgs")
	require.NoError(t, s.CreateThread(ctx, th))

	for i := 0; i < 4; i++ {
		saveTestMessage(t, s, th.ID, fmt.Sprintf("message %d", i), nil)
	}

	all, err := s.LoadMessages(ctx, th.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}

	last2, err := s.LoadMessages(ctx, th.ID, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "message 2", last2[0].Content)
	assert.Equal(t, "message 3", last2[1].Content)

	require.NoError(t, s.DeleteThreadMessages(ctx, th.ID))
	all, err = s.LoadMessages(ctx, th.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEmbeddingRoundTripAndScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := testThread("emb")
	require.NoError(t, s.CreateThread(ctx, th))

	emb := &model.Embedding{ID: "emb-1", Model: "m", Dimensions: 3, Vector: []float32{0.5, 0.25, 0.125}}
	require.NoError(t, s.SaveEmbedding(ctx, emb))
	saveTestMessage(t, s, th.ID, "embedded content", &emb.ID)

	got, err := s.GetEmbedding(ctx, emb.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, emb.Vector, got.Vector)

	scanned, err := s.ListMessageEmbeddings(ctx, registrystore.SearchScope{ThreadID: &th.ID}, 100)
	require.NoError(t, err)
	require.Len(t, scanned, 1)
	assert.Equal(t, emb.Vector, scanned[0].Vector)
	assert.Equal(t, 3, scanned[0].Dimension)
}

func TestAgentStateUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	st := &model.AgentState{ThreadID: "t1", AgentID: "a1", State: map[string]any{"step": float64(1)}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveAgentState(ctx, st))
	st.State = map[string]any{"step": float64(2)}
	require.NoError(t, s.SaveAgentState(ctx, st))

	got, err := s.GetAgentState(ctx, "t1", "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, float64(2), got.State["step"])

	require.NoError(t, s.DeleteThreadAgentState(ctx, "t1"))
	got, err = s.GetAgentState(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListEntitiesOffsetOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		rec := &model.EntityRecord{
			Kind:      "task",
			ID:        fmt.Sprintf("e%d", i),
			Data:      []byte(fmt.Sprintf(`{"title":"task %d"}`, i)),
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		}
		require.NoError(t, s.PutEntity(ctx, rec))
	}

	// A bare offset with no limit must still page: the dialector rewrites
	// it to LIMIT -1 OFFSET n.
	recs, err := s.ListEntities(ctx, "task", registrystore.EntityQuery{Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "e1", recs[0].ID)
	assert.Equal(t, "e2", recs[1].ID)
}

func TestHybridSearchAvailability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := testThread("hybrid")
	require.NoError(t, s.CreateThread(ctx, th))

	emb := &model.Embedding{ID: "emb-h", Model: "m", Dimensions: 4, Vector: []float32{1, 0, 0, 0}}
	require.NoError(t, s.SaveEmbedding(ctx, emb))
	msg := saveTestMessage(t, s, th.ID, "deploy pipeline failed on friday", &emb.ID)

	hits, err := s.HybridSearch(ctx, registrystore.HybridQuery{
		Query:  "pipeline",
		Vector: []float32{1, 0, 0, 0},
		Scope:  registrystore.SearchScope{ThreadID: &th.ID},
		Limit:  5,
		Alpha:  0.5,
	})
	if !s.fts {
		assert.ErrorIs(t, err, registrystore.ErrHybridUnsupported)
		return
	}
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, msg.ID, hits[0].Message.ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6, "exact vector plus keyword match scores both legs")
}
