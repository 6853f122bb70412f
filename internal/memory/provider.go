// Package memory is the facade over the configured backend adapter. It owns
// the read-through caches, the write-invalidate rules, embedding on save and
// the thread delete cascade. Everything below it (adapters, embedders, the
// vector index) is selected once at construction through the plugin
// registries.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/threadmem/memcore/internal/cache"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/plugin/store/metrics"
	registryembed "github.com/threadmem/memcore/internal/registry/embed"
	registrygenerate "github.com/threadmem/memcore/internal/registry/generate"
	"github.com/threadmem/memcore/internal/registry/store"
	registryvector "github.com/threadmem/memcore/internal/registry/vector"
	"github.com/threadmem/memcore/internal/tokens"
)

// Provider is the memory facade. Safe for concurrent use; same-thread writers
// are not serialized, last write wins on thread touch timestamps.
type Provider struct {
	cfg       *config.Config
	store     store.Backend
	embedder  registryembed.Embedder
	generator registrygenerate.Generator
	vector    registryvector.Index

	threadCache  *cache.Cache[*model.Thread]
	messageCache *cache.Cache[[]model.Message]
	stateCache   *cache.Cache[map[string]any]
}

// NewProvider builds a Provider from the config carried on ctx. The store,
// embedder, generator and vector index plugins are resolved here and fixed
// for the provider's lifetime.
func NewProvider(ctx context.Context) (*Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("memory: missing config in context")
	}

	storeLoader, err := store.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	backend, err := storeLoader(ctx)
	if err != nil {
		return nil, err
	}
	backend = metrics.Wrap(backend)

	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:          cfg,
		store:        backend,
		embedder:     embedder,
		threadCache:  cache.New[*model.Thread]("thread", cfg.ThreadCache),
		messageCache: cache.New[[]model.Message]("message", cfg.MessageCache),
		stateCache:   cache.New[map[string]any]("state", cfg.StateCache),
	}

	if cfg.GenerateType != "" {
		genLoader, err := registrygenerate.Select(cfg.GenerateType)
		if err != nil {
			return nil, err
		}
		if p.generator, err = genLoader(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.VectorType != "" && cfg.VectorType != "none" {
		vecLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			return nil, err
		}
		if p.vector, err = vecLoader(ctx); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// NewProviderWith wires a Provider around explicit components. Tests use it
// to run against the in-memory fake backend without the plugin registries.
func NewProviderWith(cfg *config.Config, backend store.Backend, embedder registryembed.Embedder, generator registrygenerate.Generator, index registryvector.Index) *Provider {
	return &Provider{
		cfg:          cfg,
		store:        backend,
		embedder:     embedder,
		generator:    generator,
		vector:       index,
		threadCache:  cache.New[*model.Thread]("thread", cfg.ThreadCache),
		messageCache: cache.New[[]model.Message]("message", cfg.MessageCache),
		stateCache:   cache.New[map[string]any]("state", cfg.StateCache),
	}
}

// Close releases the backend connection.
func (p *Provider) Close() error {
	return p.store.Close()
}

// HealthCheck pings the backend. Failures surface as UnavailableError.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return &store.UnavailableError{Backend: p.cfg.StoreType, Cause: err}
	}
	return nil
}

// CacheStats reports hit/miss counters per cache and combined.
type CacheStats struct {
	Thread   cache.Stats `json:"thread"`
	Messages cache.Stats `json:"messages"`
	State    cache.Stats `json:"state"`
	Combined cache.Stats `json:"combined"`
}

// CacheStats snapshots the facade caches.
func (p *Provider) CacheStats() CacheStats {
	t, m, s := p.threadCache.Stats(), p.messageCache.Stats(), p.stateCache.Stats()
	return CacheStats{Thread: t, Messages: m, State: s, Combined: cache.Combine(t, m, s)}
}

// wrapErr maps raw adapter failures to UnavailableError while letting the
// typed taxonomy errors pass through untouched.
func (p *Provider) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var (
		nf *store.NotFoundError
		ve *store.ValidationError
		ua *store.UnavailableError
		ee *store.EmbeddingError
	)
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ua) || errors.As(err, &ee) {
		return err
	}
	return &store.UnavailableError{Backend: p.cfg.StoreType, Cause: err}
}

// CreateThreadInput carries the caller-settable thread fields.
type CreateThreadInput struct {
	Name      string
	AgentID   *string
	UserID    *string
	NetworkID *string
	Metadata  model.Metadata
}

// CreateThread persists a new thread and returns it.
func (p *Provider) CreateThread(ctx context.Context, in CreateThreadInput) (*model.Thread, error) {
	if in.Name == "" {
		return nil, &store.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if err := in.Metadata.Validate(); err != nil {
		return nil, &store.ValidationError{Field: "metadata", Message: err.Error()}
	}
	now := time.Now().UTC()
	t := &model.Thread{
		ID:        uuid.NewString(),
		AgentID:   in.AgentID,
		UserID:    in.UserID,
		NetworkID: in.NetworkID,
		Name:      in.Name,
		Metadata:  in.Metadata.Normalized(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.Metadata == nil {
		t.Metadata = model.Metadata{}
	}
	if err := p.store.CreateThread(ctx, t); err != nil {
		return nil, p.wrapErr(err)
	}
	p.threadCache.Set(t.ID, t)
	return copyThread(t), nil
}

// GetThread returns a thread by id, reading through the thread cache.
// A missing thread returns (nil, nil), never an error. Callers receive a
// copy; mutating it does not disturb the cached entry.
func (p *Provider) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	if t, ok := p.threadCache.Get(id); ok {
		return copyThread(t), nil
	}
	t, err := p.store.GetThread(ctx, id)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if t == nil {
		return nil, nil
	}
	p.threadCache.Set(id, t)
	return copyThread(t), nil
}

// ListThreads returns threads matching the query, most recently updated
// first. A zero limit applies the configured default. List results bypass
// the caches.
func (p *Provider) ListThreads(ctx context.Context, q store.ThreadQuery) ([]model.Thread, error) {
	if q.Limit <= 0 {
		q.Limit = p.cfg.DefaultListLimit
	}
	threads, err := p.store.ListThreads(ctx, q)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	return threads, nil
}

// UpdateThread applies the non-nil fields of u. It returns false, without
// error, when the thread does not exist or when u carries no recognized
// fields. All three caches for the thread id are invalidated, and only
// after the write succeeds.
func (p *Provider) UpdateThread(ctx context.Context, id string, u store.ThreadUpdate) (bool, error) {
	if u.Metadata != nil {
		if err := u.Metadata.Validate(); err != nil {
			return false, &store.ValidationError{Field: "metadata", Message: err.Error()}
		}
		u.Metadata = u.Metadata.Normalized()
	}
	if u.Empty() {
		return false, nil
	}
	updated, err := p.store.UpdateThread(ctx, id, u)
	if err != nil {
		return false, p.wrapErr(err)
	}
	if updated {
		p.threadCache.Delete(id)
		p.messageCache.Delete(id)
		p.messageCache.DeleteByPrefix(id + cache.KeySep)
		p.stateCache.DeleteByPrefix(id + cache.KeySep)
	}
	return updated, nil
}

// DeleteThread removes a thread and everything hanging off it: messages
// first, then agent state, then the thread row, so a failure partway leaves
// the thread discoverable and the delete retryable. Returns false without
// error when the thread does not exist.
func (p *Provider) DeleteThread(ctx context.Context, id string) (bool, error) {
	if err := p.store.DeleteThreadMessages(ctx, id); err != nil {
		return false, p.wrapErr(err)
	}
	if err := p.store.DeleteThreadAgentState(ctx, id); err != nil {
		return false, p.wrapErr(err)
	}
	if p.vector != nil && p.vector.IsEnabled() {
		if err := p.vector.DeleteByThreadID(ctx, id); err != nil {
			log.Warn("Failed to delete thread vectors", "thread", id, "error", err)
		}
	}
	deleted, err := p.store.DeleteThread(ctx, id)
	if err != nil {
		return false, p.wrapErr(err)
	}
	p.threadCache.Delete(id)
	p.messageCache.Delete(id)
	p.messageCache.DeleteByPrefix(id + cache.KeySep)
	p.stateCache.DeleteByPrefix(id + cache.KeySep)
	return deleted, nil
}

// SaveMessageInput carries the caller-settable message fields and per-save
// behavior switches.
type SaveMessageInput struct {
	ThreadID   string
	Role       model.Role
	Content    string
	ToolCallID *string
	ToolName   *string
	Metadata   model.Metadata

	// GenerateEmbeddings embeds the content at save time. Embedding failure
	// is non-fatal: the message is stored with metadata has_embedding=false.
	GenerateEmbeddings bool
	// CountTokens estimates and records the content's token count.
	CountTokens bool
	// TokenModel selects the tokenizer encoding; empty uses the configured
	// generation model.
	TokenModel string
}

// SaveMessage appends a message to a thread. The parent thread's UpdatedAt
// is always refreshed.
func (p *Provider) SaveMessage(ctx context.Context, in SaveMessageInput) (*model.Message, error) {
	if !in.Role.Valid() {
		return nil, &store.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", in.Role)}
	}
	if err := in.Metadata.Validate(); err != nil {
		return nil, &store.ValidationError{Field: "metadata", Message: err.Error()}
	}
	thread, err := p.GetThread(ctx, in.ThreadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, &store.NotFoundError{Resource: "thread", ID: in.ThreadID}
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:         uuid.NewString(),
		ThreadID:   in.ThreadID,
		Role:       in.Role,
		Content:    in.Content,
		ToolCallID: in.ToolCallID,
		ToolName:   in.ToolName,
		Metadata:   in.Metadata.Normalized(),
		CreatedAt:  now,
	}
	if m.Metadata == nil {
		m.Metadata = model.Metadata{}
	}

	if in.CountTokens {
		tokenModel := in.TokenModel
		if tokenModel == "" {
			tokenModel = p.cfg.GenerateModel
		}
		count := tokens.CountTokens(in.Content, tokenModel)
		m.TokenCount = &count
	}

	var embVector []float32
	var embModel string
	if in.GenerateEmbeddings {
		res, err := p.embedder.EmbedTexts(ctx, []string{in.Content})
		if err != nil || len(res.Vectors) != 1 {
			log.Warn("Embedding failed, storing message without one",
				"thread", in.ThreadID, "error", err)
			m.Metadata["has_embedding"] = false
		} else {
			// Attribute the embedding to the model that produced it, which
			// under the fallback embedder may not be the primary.
			emb := &model.Embedding{
				ID:         uuid.NewString(),
				Vector:     res.Vectors[0],
				Model:      res.Model,
				Dimensions: len(res.Vectors[0]),
			}
			if err := p.store.SaveEmbedding(ctx, emb); err != nil {
				log.Warn("Failed to persist embedding", "thread", in.ThreadID, "error", err)
				m.Metadata["has_embedding"] = false
			} else {
				m.EmbeddingID = &emb.ID
				embVector = emb.Vector
				embModel = emb.Model
			}
		}
	}

	if err := p.store.SaveMessage(ctx, m); err != nil {
		return nil, p.wrapErr(err)
	}

	if embVector != nil && p.vector != nil && p.vector.IsEnabled() {
		agentID := ""
		if thread.AgentID != nil {
			agentID = *thread.AgentID
		}
		err := p.vector.Upsert(ctx, []registryvector.UpsertRequest{{
			MessageID: m.ID,
			ThreadID:  m.ThreadID,
			AgentID:   agentID,
			Embedding: embVector,
			ModelName: embModel,
		}})
		if err != nil {
			log.Warn("Failed to index message vector", "message", m.ID, "error", err)
		}
	}

	if err := p.store.TouchThread(ctx, in.ThreadID, now); err != nil {
		log.Warn("Failed to touch thread", "thread", in.ThreadID, "error", err)
	}
	p.threadCache.Delete(in.ThreadID)
	p.messageCache.Delete(in.ThreadID)
	p.messageCache.DeleteByPrefix(in.ThreadID + cache.KeySep)
	return m, nil
}

// LoadMessages returns a thread's messages in conversation order, reading
// through the message cache. A positive limit selects the most recent N.
// An unknown thread yields an empty list, not an error.
func (p *Provider) LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	key := threadID
	if limit > 0 {
		key = cache.Key(threadID, strconv.Itoa(limit))
	}
	if msgs, ok := p.messageCache.Get(key); ok {
		return copyMessages(msgs), nil
	}
	msgs, err := p.store.LoadMessages(ctx, threadID, limit)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if len(msgs) > 0 {
		p.messageCache.Set(key, msgs)
		return copyMessages(msgs), nil
	}
	return msgs, nil
}

// SaveAgentState upserts the state document for (thread, agent).
func (p *Provider) SaveAgentState(ctx context.Context, threadID, agentID string, state map[string]any) (*model.AgentState, error) {
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, &store.NotFoundError{Resource: "thread", ID: threadID}
	}
	if state == nil {
		state = map[string]any{}
	}
	now := time.Now().UTC()
	st := &model.AgentState{
		ThreadID:  threadID,
		AgentID:   agentID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.SaveAgentState(ctx, st); err != nil {
		return nil, p.wrapErr(err)
	}
	p.stateCache.Delete(cache.Key(threadID, agentID))
	return st, nil
}

// LoadAgentState returns the state document for (thread, agent), or an empty
// map when none has been saved. Empty results are never cached.
func (p *Provider) LoadAgentState(ctx context.Context, threadID, agentID string) (map[string]any, error) {
	key := cache.Key(threadID, agentID)
	if st, ok := p.stateCache.Get(key); ok {
		return maps.Clone(st), nil
	}
	st, err := p.store.GetAgentState(ctx, threadID, agentID)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if st == nil || len(st.State) == 0 {
		return map[string]any{}, nil
	}
	p.stateCache.Set(key, st.State)
	return maps.Clone(st.State), nil
}

// Cached values are returned as copies so caller mutation cannot poison the
// caches. Copies are one level deep; values nested inside state documents or
// metadata maps stay shared.

func copyThread(t *model.Thread) *model.Thread {
	c := *t
	c.AgentID = clonePtr(t.AgentID)
	c.UserID = clonePtr(t.UserID)
	c.NetworkID = clonePtr(t.NetworkID)
	c.Summary = clonePtr(t.Summary)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

func copyMessages(msgs []model.Message) []model.Message {
	out := slices.Clone(msgs)
	for i := range out {
		out[i].ToolCallID = clonePtr(out[i].ToolCallID)
		out[i].ToolName = clonePtr(out[i].ToolName)
		out[i].TokenCount = clonePtr(out[i].TokenCount)
		out[i].EmbeddingID = clonePtr(out[i].EmbeddingID)
		out[i].Metadata = maps.Clone(out[i].Metadata)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
