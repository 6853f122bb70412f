package store

import (
	"context"
	"fmt"
	"time"

	"github.com/threadmem/memcore/internal/model"
)

// ThreadQuery holds filters and pagination for ListThreads. Results are
// ordered by UpdatedAt descending unless OrderBy says otherwise.
type ThreadQuery struct {
	UserID    *string
	AgentID   *string
	NetworkID *string
	Limit     int
	Offset    int
}

// ThreadUpdate defines the mutable thread fields. Nil pointers are left
// untouched; Metadata, when non-nil, replaces the stored map wholesale.
type ThreadUpdate struct {
	Name     *string
	Summary  *string
	Metadata model.Metadata
}

// Empty reports whether the update carries no recognized fields.
func (u ThreadUpdate) Empty() bool {
	return u.Name == nil && u.Summary == nil && u.Metadata == nil
}

// SearchScope narrows a semantic search to a thread and/or agent.
type SearchScope struct {
	ThreadID *string
	AgentID  *string
}

// MessageEmbedding pairs a message with its stored vector for the
// brute-force similarity scan.
type MessageEmbedding struct {
	Message   model.Message
	Vector    []float32
	Model     string
	Dimension int
}

// HybridQuery is a backend-native vector+keyword search request.
type HybridQuery struct {
	Query  string
	Vector []float32
	Scope  SearchScope
	Limit  int
	// Alpha weights the vector leg against the keyword leg: 1 is pure
	// vector, 0 pure keyword.
	Alpha float64
}

// SearchHit is a scored message returned by semantic or hybrid search.
type SearchHit struct {
	Message    model.Message `json:"message"`
	Similarity float64       `json:"similarity"`
}

// EntityQuery holds filters for ListEntities. Adapters without server-side
// filtering return the whole kind and let the entity store filter in memory.
type EntityQuery struct {
	// Equals are field-equality filters applied to the entity document.
	Equals map[string]any
	// OrderBy names a single document field; empty means insertion order.
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

// Backend is the operation set every storage adapter implements. Adapters
// never cache; caching and invalidation are the facade's job. All single
// entity writes are atomic. Get operations return (nil, nil) when the row is
// absent so "not found" never costs an allocation of an error the facade
// will immediately discard.
type Backend interface {
	// Threads
	CreateThread(ctx context.Context, t *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreads(ctx context.Context, q ThreadQuery) ([]model.Thread, error)
	UpdateThread(ctx context.Context, id string, u ThreadUpdate) (bool, error)
	DeleteThread(ctx context.Context, id string) (bool, error)
	// TouchThread refreshes UpdatedAt. Last write wins under concurrency.
	TouchThread(ctx context.Context, id string, at time.Time) error

	// Messages. Messages are immutable once saved and are deleted only via
	// DeleteThreadMessages during a thread cascade.
	SaveMessage(ctx context.Context, m *model.Message) error
	LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error)
	DeleteThreadMessages(ctx context.Context, threadID string) error

	// Embeddings
	SaveEmbedding(ctx context.Context, e *model.Embedding) error
	GetEmbedding(ctx context.Context, id string) (*model.Embedding, error)
	// ListMessageEmbeddings feeds the brute-force similarity scan. scanLimit
	// bounds the number of candidate rows fetched.
	ListMessageEmbeddings(ctx context.Context, scope SearchScope, scanLimit int) ([]MessageEmbedding, error)

	// Agent state
	SaveAgentState(ctx context.Context, s *model.AgentState) error
	GetAgentState(ctx context.Context, threadID, agentID string) (*model.AgentState, error)
	DeleteThreadAgentState(ctx context.Context, threadID string) error

	// HybridSearch runs a native vector+keyword query. Adapters without a
	// native primitive return ErrHybridUnsupported.
	HybridSearch(ctx context.Context, q HybridQuery) ([]SearchHit, error)

	// Generic entities
	PutEntity(ctx context.Context, rec *model.EntityRecord) error
	GetEntity(ctx context.Context, kind, id string) (*model.EntityRecord, error)
	DeleteEntity(ctx context.Context, kind, id string) (bool, error)
	ListEntities(ctx context.Context, kind string, q EntityQuery) ([]model.EntityRecord, error)

	// Ping is the availability probe behind the facade's health check.
	Ping(ctx context.Context) error
	Close() error
}

// Loader creates a Backend from config carried on the context.
type Loader func(ctx context.Context) (Backend, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
