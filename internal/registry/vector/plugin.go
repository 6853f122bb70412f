package vector

import (
	"context"
	"fmt"
)

// SearchResult represents a single vector index hit.
type SearchResult struct {
	MessageID string  `json:"messageId"`
	ThreadID  string  `json:"threadId"`
	Score     float64 `json:"score"`
}

// UpsertRequest holds the data for a single vector upsert operation.
type UpsertRequest struct {
	MessageID string
	ThreadID  string
	AgentID   string
	Embedding []float32
	ModelName string
}

// Index is an optional external vector index consulted by semantic search
// when configured. Without one, search falls back to a brute-force scan over
// the backend's stored embeddings.
type Index interface {
	// Search performs a semantic vector search, optionally scoped to one thread.
	Search(ctx context.Context, embedding []float32, threadID *string, limit int) ([]SearchResult, error)
	// Upsert stores or updates vector embeddings for a batch of messages.
	Upsert(ctx context.Context, entries []UpsertRequest) error
	// DeleteByThreadID removes all indexed vectors for a thread.
	DeleteByThreadID(ctx context.Context, threadID string) error
	// IsEnabled returns true if the index is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant").
	Name() string
}

// Loader creates an Index from config.
type Loader func(ctx context.Context) (Index, error)

// Plugin represents a vector index plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector index plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector index plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector index plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector index %q; valid: %v", name, Names())
}
