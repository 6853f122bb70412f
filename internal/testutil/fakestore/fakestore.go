// Package fakestore is an in-memory store.Backend for hermetic tests. It
// keeps the same observable semantics as the real adapters: insertion
// sequence numbers, ascending message order, (nil, nil) on absent rows and
// ErrHybridUnsupported so callers exercise the facade's fallback path.
package fakestore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/registry/store"
)

// Fake is safe for concurrent use. Counters let tests assert how often the
// facade actually reached the backend.
type Fake struct {
	mu sync.Mutex

	threads    map[string]model.Thread
	messages   map[string][]model.Message // by thread id, insertion order
	embeddings map[string]model.Embedding
	states     map[string]model.AgentState // key threadID+"/"+agentID
	entities   map[string]model.EntityRecord

	seq int64

	// PingErr, when set, is returned by Ping.
	PingErr error
	// NativeHybrid switches HybridSearch from ErrHybridUnsupported to a
	// simple contains-based implementation.
	NativeHybrid bool

	GetThreadCalls    int
	LoadMessagesCalls int
	GetStateCalls     int
}

func New() *Fake {
	return &Fake{
		threads:    map[string]model.Thread{},
		messages:   map[string][]model.Message{},
		embeddings: map[string]model.Embedding{},
		states:     map[string]model.AgentState{},
		entities:   map[string]model.EntityRecord{},
	}
}

func stateKey(threadID, agentID string) string { return threadID + "/" + agentID }
func entityKey(kind, id string) string         { return kind + "/" + id }

func (f *Fake) CreateThread(_ context.Context, t *model.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.threads[t.ID]; exists {
		return &store.ValidationError{Field: "id", Message: "thread " + t.ID + " already exists"}
	}
	f.threads[t.ID] = *t
	return nil
}

func (f *Fake) GetThread(_ context.Context, id string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetThreadCalls++
	t, ok := f.threads[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *Fake) ListThreads(_ context.Context, q store.ThreadQuery) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Thread
	for _, t := range f.threads {
		if q.UserID != nil && (t.UserID == nil || *t.UserID != *q.UserID) {
			continue
		}
		if q.AgentID != nil && (t.AgentID == nil || *t.AgentID != *q.AgentID) {
			continue
		}
		if q.NetworkID != nil && (t.NetworkID == nil || *t.NetworkID != *q.NetworkID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *Fake) UpdateThread(_ context.Context, id string, u store.ThreadUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok {
		return false, nil
	}
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Summary != nil {
		t.Summary = u.Summary
	}
	if u.Metadata != nil {
		t.Metadata = u.Metadata
	}
	t.UpdatedAt = time.Now().UTC()
	f.threads[id] = t
	return true, nil
}

func (f *Fake) DeleteThread(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[id]; !ok {
		return false, nil
	}
	delete(f.threads, id)
	return true, nil
}

func (f *Fake) TouchThread(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.threads[id]; ok {
		t.UpdatedAt = at
		f.threads[id] = t
	}
	return nil
}

func (f *Fake) SaveMessage(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.messages {
		for _, existing := range msgs {
			if existing.ID == m.ID {
				return &store.ValidationError{Field: "id", Message: "message " + m.ID + " already exists"}
			}
		}
	}
	f.seq++
	m.Seq = f.seq
	f.messages[m.ThreadID] = append(f.messages[m.ThreadID], *m)
	return nil
}

func (f *Fake) LoadMessages(_ context.Context, threadID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoadMessagesCalls++
	msgs := append([]model.Message(nil), f.messages[threadID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *Fake) DeleteThreadMessages(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, threadID)
	return nil
}

func (f *Fake) SaveEmbedding(_ context.Context, e *model.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.embeddings[e.ID]; !exists {
		f.embeddings[e.ID] = *e
	}
	return nil
}

func (f *Fake) GetEmbedding(_ context.Context, id string) (*model.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.embeddings[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *Fake) ListMessageEmbeddings(_ context.Context, scope store.SearchScope, scanLimit int) ([]store.MessageEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MessageEmbedding
	for threadID, msgs := range f.messages {
		if scope.ThreadID != nil && threadID != *scope.ThreadID {
			continue
		}
		if scope.AgentID != nil {
			t, ok := f.threads[threadID]
			if !ok || t.AgentID == nil || *t.AgentID != *scope.AgentID {
				continue
			}
		}
		for _, m := range msgs {
			if m.EmbeddingID == nil {
				continue
			}
			e, ok := f.embeddings[*m.EmbeddingID]
			if !ok {
				continue
			}
			out = append(out, store.MessageEmbedding{
				Message:   m,
				Vector:    e.Vector,
				Model:     e.Model,
				Dimension: e.Dimensions,
			})
			if len(out) >= scanLimit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (f *Fake) SaveAgentState(_ context.Context, st *model.AgentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stateKey(st.ThreadID, st.AgentID)
	if existing, ok := f.states[key]; ok {
		st.CreatedAt = existing.CreatedAt
	}
	f.states[key] = *st
	return nil
}

func (f *Fake) GetAgentState(_ context.Context, threadID, agentID string) (*model.AgentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetStateCalls++
	st, ok := f.states[stateKey(threadID, agentID)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *Fake) DeleteThreadAgentState(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.states {
		if strings.HasPrefix(key, threadID+"/") {
			delete(f.states, key)
		}
	}
	return nil
}

func (f *Fake) HybridSearch(ctx context.Context, q store.HybridQuery) ([]store.SearchHit, error) {
	if !f.NativeHybrid {
		return nil, store.ErrHybridUnsupported
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	needle := strings.ToLower(q.Query)
	var hits []store.SearchHit
	for threadID, msgs := range f.messages {
		if q.Scope.ThreadID != nil && threadID != *q.Scope.ThreadID {
			continue
		}
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), needle) {
				hits = append(hits, store.SearchHit{Message: m, Similarity: 1 - q.Alpha})
			}
		}
	}
	limit := q.Limit
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *Fake) PutEntity(_ context.Context, rec *model.EntityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entityKey(rec.Kind, rec.ID)
	if existing, ok := f.entities[key]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	f.entities[key] = *rec
	return nil
}

func (f *Fake) GetEntity(_ context.Context, kind, id string) (*model.EntityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.entities[entityKey(kind, id)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *Fake) DeleteEntity(_ context.Context, kind, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entityKey(kind, id)
	if _, ok := f.entities[key]; !ok {
		return false, nil
	}
	delete(f.entities, key)
	return true, nil
}

func (f *Fake) ListEntities(_ context.Context, kind string, q store.EntityQuery) ([]model.EntityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []model.EntityRecord
	for key, rec := range f.entities {
		if strings.HasPrefix(key, kind+"/") {
			recs = append(recs, rec)
		}
	}
	return store.ApplyEntityQuery(recs, q), nil
}

func (f *Fake) Ping(_ context.Context) error { return f.PingErr }
func (f *Fake) Close() error                 { return nil }

var _ store.Backend = (*Fake)(nil)
