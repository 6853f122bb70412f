package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/plugin/embed/fallback"
	"github.com/threadmem/memcore/internal/plugin/embed/local"
	registryembed "github.com/threadmem/memcore/internal/registry/embed"
	registrygenerate "github.com/threadmem/memcore/internal/registry/generate"
	"github.com/threadmem/memcore/internal/registry/store"
	"github.com/threadmem/memcore/internal/testutil/fakestore"
)

type stubGenerator struct {
	out        string
	lastSystem string
	lastUser   string
	lastOpts   registrygenerate.Options
	err        error
}

func (g *stubGenerator) Generate(_ context.Context, system, user string, opts registrygenerate.Options) (string, error) {
	g.lastSystem = system
	g.lastUser = user
	g.lastOpts = opts
	return g.out, g.err
}

type failEmbedder struct{}

func (failEmbedder) EmbedTexts(context.Context, []string) (registryembed.Result, error) {
	return registryembed.Result{}, errors.New("embedder down")
}
func (failEmbedder) ModelName() string { return "broken" }
func (failEmbedder) Dimension() int    { return 0 }

type stubEmbedder struct {
	name string
	dim  int
	err  error
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) (registryembed.Result, error) {
	if s.err != nil {
		return registryembed.Result{}, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return registryembed.Result{Vectors: out, Model: s.name}, nil
}
func (s *stubEmbedder) ModelName() string { return s.name }
func (s *stubEmbedder) Dimension() int    { return s.dim }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ThreadCache.CollectMetrics = false
	cfg.MessageCache.CollectMetrics = false
	cfg.StateCache.CollectMetrics = false
	return &cfg
}

func newTestProvider(t *testing.T) (*Provider, *fakestore.Fake) {
	t.Helper()
	fake := fakestore.New()
	p := NewProviderWith(testConfig(), fake, &local.LocalEmbedder{}, nil, nil)
	return p, fake
}

func mustCreateThread(t *testing.T, p *Provider, name string) *model.Thread {
	t.Helper()
	thread, err := p.CreateThread(context.Background(), CreateThreadInput{Name: name})
	require.NoError(t, err)
	return thread
}

func TestCreateAndGetThread(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()

	agentID := "agent-1"
	thread, err := p.CreateThread(ctx, CreateThreadInput{
		Name:     "supply chain research",
		AgentID:  &agentID,
		Metadata: model.Metadata{"priority": 2},
	})
	require.NoError(t, err)
	require.NotEmpty(t, thread.ID)
	assert.Equal(t, float64(2), thread.Metadata["priority"], "integers widen to float64")

	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ID)
	assert.Equal(t, "supply chain research", got.Name)

	// Created threads are cached; the read above must not hit the backend.
	assert.Equal(t, 0, fake.GetThreadCalls)
}

func TestCreateThreadValidation(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.CreateThread(ctx, CreateThreadInput{Name: ""})
	var ve *store.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)

	_, err = p.CreateThread(ctx, CreateThreadInput{
		Name:     "x",
		Metadata: model.Metadata{"nested": map[string]any{"a": 1}},
	})
	require.ErrorAs(t, err, &ve)
}

func TestGetThreadAbsent(t *testing.T) {
	p, _ := newTestProvider(t)
	got, err := p.GetThread(context.Background(), "nope")
	require.NoError(t, err, "a missing thread is not an error")
	assert.Nil(t, got)
}

func TestListThreadsDefaultLimit(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		mustCreateThread(t, p, fmt.Sprintf("thread %d", i))
	}
	threads, err := p.ListThreads(ctx, store.ThreadQuery{})
	require.NoError(t, err)
	assert.Len(t, threads, 10, "default list limit applies")
}

func TestUpdateThread(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "before")

	name := "after"
	updated, err := p.UpdateThread(ctx, thread.ID, store.ThreadUpdate{Name: &name})
	require.NoError(t, err)
	assert.True(t, updated)

	// The stale cache entry must be gone: a fresh Get sees the new name.
	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)

	updated, err = p.UpdateThread(ctx, "missing", store.ThreadUpdate{Name: &name})
	require.NoError(t, err, "updating a missing thread is not an error")
	assert.False(t, updated)

	updated, err = p.UpdateThread(ctx, thread.ID, store.ThreadUpdate{})
	require.NoError(t, err)
	assert.False(t, updated, "an update with no recognized fields is a no-op")
}

func TestDeleteThreadCascadesAndIsIdempotent(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "doomed")

	_, err := p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)
	_, err = p.SaveAgentState(ctx, thread.ID, "agent-1", map[string]any{"step": 2})
	require.NoError(t, err)

	// Warm the caches so the delete has something to invalidate.
	_, err = p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	_, err = p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)

	deleted, err := p.DeleteThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	msgs, err := p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "cached message list must not survive the delete")

	st, err := p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, st)

	deleted, err = p.DeleteThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports false without error")
}

func TestSaveMessageWithEmbeddingAndTokens(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	msg, err := p.SaveMessage(ctx, SaveMessageInput{
		ThreadID:           thread.ID,
		Role:               model.RoleAssistant,
		Content:            "the quick brown fox jumps over the lazy dog",
		GenerateEmbeddings: true,
		CountTokens:        true,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.EmbeddingID)
	require.NotNil(t, msg.TokenCount)
	assert.Greater(t, *msg.TokenCount, 0)
	_, hasFlag := msg.Metadata["has_embedding"]
	assert.False(t, hasFlag, "successful embedding sets no degradation flag")

	emb, err := fake.GetEmbedding(ctx, *msg.EmbeddingID)
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Equal(t, 384, emb.Dimensions)
	assert.Len(t, emb.Vector, 384)

	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(thread.UpdatedAt), "save touches the parent thread")
}

func TestSaveMessageEmbeddingFailureIsNonFatal(t *testing.T) {
	fake := fakestore.New()
	p := NewProviderWith(testConfig(), fake, failEmbedder{}, nil, nil)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	msg, err := p.SaveMessage(ctx, SaveMessageInput{
		ThreadID:           thread.ID,
		Role:               model.RoleUser,
		Content:            "still stored",
		GenerateEmbeddings: true,
	})
	require.NoError(t, err)
	assert.Nil(t, msg.EmbeddingID)
	assert.Equal(t, false, msg.Metadata["has_embedding"])

	msgs, err := p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSaveMessageValidation(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	_, err := p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: "robot", Content: "x"})
	var ve *store.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.SaveMessage(ctx, SaveMessageInput{ThreadID: "missing", Role: model.RoleUser, Content: "x"})
	assert.True(t, store.IsNotFound(err))
}

func TestLoadMessagesOrderAndLimit(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	for i := 0; i < 5; i++ {
		_, err := p.SaveMessage(ctx, SaveMessageInput{
			ThreadID: thread.ID,
			Role:     model.RoleUser,
			Content:  fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	all, err := p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq, "ascending insertion order")
	}

	last2, err := p.LoadMessages(ctx, thread.ID, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "message 3", last2[0].Content)
	assert.Equal(t, "message 4", last2[1].Content)
}

func TestLoadMessagesCacheInvalidatedBySave(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	_, err := p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleUser, Content: "one"})
	require.NoError(t, err)

	_, err = p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	_, err = p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.LoadMessagesCalls, "second read served from cache")

	_, err = p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleAssistant, Content: "two"})
	require.NoError(t, err)

	msgs, err := p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "save invalidates the cached list")
}

func TestAgentStateRoundTrip(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	_, err := p.SaveAgentState(ctx, thread.ID, "agent-1", map[string]any{"step": 2})
	require.NoError(t, err)

	st, err := p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, st["step"])

	// Upsert replaces the document wholesale.
	_, err = p.SaveAgentState(ctx, thread.ID, "agent-1", map[string]any{"step": 3, "done": true})
	require.NoError(t, err)
	st, err = p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, st["step"])
	assert.Equal(t, true, st["done"])

	// Absent state is an empty map and is never cached.
	before := fake.GetStateCalls
	st, err = p.LoadAgentState(ctx, thread.ID, "other-agent")
	require.NoError(t, err)
	assert.Empty(t, st)
	_, err = p.LoadAgentState(ctx, thread.ID, "other-agent")
	require.NoError(t, err)
	assert.Equal(t, before+2, fake.GetStateCalls, "empty results always re-read the backend")
}

func TestSaveMessageRecordsProducingModel(t *testing.T) {
	fake := fakestore.New()
	primary := &stubEmbedder{name: "primary-model", dim: 4, err: errors.New("embed down")}
	secondary := &stubEmbedder{name: "backup-model", dim: 8}
	emb := fallback.New(
		func() (registryembed.Embedder, error) { return primary, nil },
		func() (registryembed.Embedder, error) { return secondary, nil },
	)
	p := NewProviderWith(testConfig(), fake, emb, nil, nil)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	msg, err := p.SaveMessage(ctx, SaveMessageInput{
		ThreadID:           thread.ID,
		Role:               model.RoleUser,
		Content:            "served by the backup",
		GenerateEmbeddings: true,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.EmbeddingID)

	// The persisted embedding names the model that produced the vector,
	// not the primary the fallback embedder loaded.
	stored, err := fake.GetEmbedding(ctx, *msg.EmbeddingID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "backup-model", stored.Model)
	assert.Equal(t, 8, stored.Dimensions)
}

func TestCachedReadsAreCopies(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread, err := p.CreateThread(ctx, CreateThreadInput{
		Name:     "pristine",
		Metadata: model.Metadata{"kind": "note"},
	})
	require.NoError(t, err)

	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	got.Name = "scribbled"
	got.Metadata["kind"] = "scribbled"

	again, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "pristine", again.Name)
	assert.Equal(t, "note", again.Metadata["kind"])

	_, err = p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleUser, Content: "original"})
	require.NoError(t, err)
	msgs, err := p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	msgs[0].Content = "scribbled"
	msgs, err = p.LoadMessages(ctx, thread.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "original", msgs[0].Content)

	_, err = p.SaveAgentState(ctx, thread.ID, "agent-1", map[string]any{"step": 1})
	require.NoError(t, err)
	st, err := p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)
	st["step"] = 99
	st, err = p.LoadAgentState(ctx, thread.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st["step"])
}

func TestGenerateThreadSummary(t *testing.T) {
	fake := fakestore.New()
	gen := &stubGenerator{out: "  user asked about foxes  "}
	p := NewProviderWith(testConfig(), fake, &local.LocalEmbedder{}, gen, nil)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	_, err := p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleUser, Content: "tell me about foxes"})
	require.NoError(t, err)
	_, err = p.SaveMessage(ctx, SaveMessageInput{ThreadID: thread.ID, Role: model.RoleAssistant, Content: "foxes are canids"})
	require.NoError(t, err)

	summary, err := p.GenerateThreadSummary(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "user asked about foxes", summary)
	assert.InDelta(t, 0.1, gen.lastOpts.Temperature, 1e-6)
	assert.Contains(t, gen.lastUser, "user: tell me about foxes")
	assert.Contains(t, gen.lastUser, "assistant: foxes are canids")

	got, err := p.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "user asked about foxes", *got.Summary)

	_, err = p.GenerateThreadSummary(ctx, "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestGenerateThreadSummaryWithoutGenerator(t *testing.T) {
	p, _ := newTestProvider(t)
	thread := mustCreateThread(t, p, "t")
	_, err := p.GenerateThreadSummary(context.Background(), thread.ID)
	var ve *store.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestHealthCheck(t *testing.T) {
	p, fake := newTestProvider(t)
	require.NoError(t, p.HealthCheck(context.Background()))

	fake.PingErr = errors.New("connection refused")
	err := p.HealthCheck(context.Background())
	assert.True(t, store.IsUnavailable(err))
}

func TestCacheStats(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	thread := mustCreateThread(t, p, "t")

	_, _ = p.GetThread(ctx, thread.ID) // hit (cached on create)
	_, _ = p.GetThread(ctx, "missing") // miss

	stats := p.CacheStats()
	assert.Equal(t, int64(1), stats.Thread.Hits)
	assert.Equal(t, int64(1), stats.Thread.Misses)
	assert.InDelta(t, 0.5, stats.Combined.HitRate(), 1e-9)
}
