// Package redis implements the KV+vector backend adapter. Entities live in
// hashes, thread membership and message ordering in sorted sets, and
// embeddings inline next to their metadata. Vector queries are served by a
// client-side scan; thread listing filters in memory after an index fetch.
// Both are documented trade-offs of the KV representation.
package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

const (
	threadKeyPrefix    = "memcore:thread:"
	threadIndexKey     = "memcore:threads"
	messageKeyPrefix   = "memcore:msg:"
	threadMsgsPrefix   = "memcore:thread-msgs:"
	embeddingKeyPrefix = "memcore:embedding:"
	embeddedMsgsKey    = "memcore:embedded-msgs"
	stateKeyPrefix     = "memcore:state:"
	threadStatesPrefix = "memcore:thread-states:"
	entityKeyPrefix    = "memcore:entity:"
	entityIndexPrefix  = "memcore:entities:"
	messageSeqKey      = "memcore:msg-seq"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrystore.Backend, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.RedisURL == "" {
				return nil, fmt.Errorf("redis store: MEMCORE_REDIS_URL is required")
			}
			opts, err := goredis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("redis store: invalid URL: %w", err)
			}
			client := goredis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("redis store: ping failed: %w", err)
			}
			return &RedisStore{client: client}, nil
		},
	})
}

// RedisStore implements store.Backend on a redis-compatible server. The
// go-redis client pools connections and is safe for concurrent use.
type RedisStore struct {
	client *goredis.Client
}

func threadKey(id string) string          { return threadKeyPrefix + id }
func messageKey(id string) string         { return messageKeyPrefix + id }
func threadMsgsKey(threadID string) string { return threadMsgsPrefix + threadID }
func embeddingKey(id string) string       { return embeddingKeyPrefix + id }
func stateKey(tid, aid string) string     { return stateKeyPrefix + tid + ":" + aid }
func threadStatesKey(tid string) string   { return threadStatesPrefix + tid }
func entityKey(kind, id string) string    { return entityKeyPrefix + kind + ":" + id }
func entityIndexKey(kind string) string   { return entityIndexPrefix + kind }

func (s *RedisStore) CreateThread(ctx context.Context, t *model.Thread) error {
	exists, err := s.client.Exists(ctx, threadKey(t.ID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return &registrystore.ValidationError{Field: "id", Message: "thread " + t.ID + " already exists"}
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, threadKey(t.ID), threadToHash(t))
	pipe.ZAdd(ctx, threadIndexKey, goredis.Z{Score: float64(t.UpdatedAt.UnixNano()), Member: t.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	h, err := s.client.HGetAll(ctx, threadKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return threadFromHash(h)
}

// ListThreads fetches the whole updated-at index and filters in memory.
// Acceptable at the target scale; the relational adapters filter
// server-side.
func (s *RedisStore) ListThreads(ctx context.Context, q registrystore.ThreadQuery) ([]model.Thread, error) {
	ids, err := s.client.ZRevRange(ctx, threadIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []model.Thread
	skipped := 0
	for _, id := range ids {
		h, err := s.client.HGetAll(ctx, threadKey(id)).Result()
		if err != nil {
			return nil, err
		}
		t, err := threadFromHash(h)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		if q.UserID != nil && (t.UserID == nil || *t.UserID != *q.UserID) {
			continue
		}
		if q.AgentID != nil && (t.AgentID == nil || *t.AgentID != *q.AgentID) {
			continue
		}
		if q.NetworkID != nil && (t.NetworkID == nil || *t.NetworkID != *q.NetworkID) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, *t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) UpdateThread(ctx context.Context, id string, u registrystore.ThreadUpdate) (bool, error) {
	if u.Empty() {
		return false, nil
	}
	exists, err := s.client.Exists(ctx, threadKey(id)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	now := time.Now().UTC()
	fields := map[string]any{"updated_at": now.Format(time.RFC3339Nano)}
	if u.Name != nil {
		fields["name"] = *u.Name
	}
	if u.Summary != nil {
		fields["summary"] = *u.Summary
	}
	if u.Metadata != nil {
		fields["metadata"] = jsonString(u.Metadata)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, threadKey(id), fields)
	pipe.ZAdd(ctx, threadIndexKey, goredis.Z{Score: float64(now.UnixNano()), Member: id})
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

func (s *RedisStore) DeleteThread(ctx context.Context, id string) (bool, error) {
	deleted, err := s.client.Del(ctx, threadKey(id)).Result()
	if err != nil {
		return false, err
	}
	if err := s.client.ZRem(ctx, threadIndexKey, id).Err(); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (s *RedisStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, threadKey(id), "updated_at", at.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, threadIndexKey, goredis.Z{Score: float64(at.UnixNano()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveMessage(ctx context.Context, m *model.Message) error {
	if m.Seq == 0 {
		seq, err := s.client.Incr(ctx, messageSeqKey).Result()
		if err != nil {
			return err
		}
		m.Seq = seq
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, messageKey(m.ID), messageToHash(m))
	pipe.ZAdd(ctx, threadMsgsKey(m.ThreadID), goredis.Z{
		Score:  float64(m.CreatedAt.UnixNano()),
		Member: m.ID,
	})
	if m.EmbeddingID != nil {
		pipe.SAdd(ctx, embeddedMsgsKey, m.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	var ids []string
	var err error
	if limit > 0 {
		// most recent N, re-sorted ascending below
		ids, err = s.client.ZRevRange(ctx, threadMsgsKey(threadID), 0, int64(limit-1)).Result()
	} else {
		ids, err = s.client.ZRange(ctx, threadMsgsKey(threadID), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		h, err := s.client.HGetAll(ctx, messageKey(id)).Result()
		if err != nil {
			return nil, err
		}
		m, err := messageFromHash(h)
		if err != nil {
			return nil, err
		}
		if m != nil {
			messages = append(messages, *m)
		}
	}
	// ZSET score ties (equal created-at) order lexically; restore the
	// canonical (created_at, seq) ordering.
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].Seq < messages[j].Seq
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *RedisStore) DeleteThreadMessages(ctx context.Context, threadID string) error {
	ids, err := s.client.ZRange(ctx, threadMsgsKey(threadID), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, messageKey(id))
		pipe.SRem(ctx, embeddedMsgsKey, id)
	}
	pipe.Del(ctx, threadMsgsKey(threadID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveEmbedding(ctx context.Context, e *model.Embedding) error {
	return s.client.HSet(ctx, embeddingKey(e.ID), embeddingToHash(e)).Err()
}

func (s *RedisStore) GetEmbedding(ctx context.Context, id string) (*model.Embedding, error) {
	h, err := s.client.HGetAll(ctx, embeddingKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return embeddingFromHash(h)
}

// ListMessageEmbeddings scans candidate messages client-side. When scoped to
// a thread it walks the thread's message index; otherwise it walks the
// global embedded-message set up to scanLimit entries.
func (s *RedisStore) ListMessageEmbeddings(ctx context.Context, scope registrystore.SearchScope, scanLimit int) ([]registrystore.MessageEmbedding, error) {
	var ids []string
	var err error
	if scope.ThreadID != nil {
		ids, err = s.client.ZRange(ctx, threadMsgsKey(*scope.ThreadID), 0, -1).Result()
	} else {
		ids, err = s.client.SMembers(ctx, embeddedMsgsKey).Result()
	}
	if err != nil {
		return nil, err
	}

	var out []registrystore.MessageEmbedding
	for _, id := range ids {
		if scanLimit > 0 && len(out) >= scanLimit {
			break
		}
		h, err := s.client.HGetAll(ctx, messageKey(id)).Result()
		if err != nil {
			return nil, err
		}
		m, err := messageFromHash(h)
		if err != nil || m == nil || m.EmbeddingID == nil {
			continue
		}
		if scope.AgentID != nil {
			th, err := s.client.HGet(ctx, threadKey(m.ThreadID), "agent_id").Result()
			if err == goredis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			if th != *scope.AgentID {
				continue
			}
		}
		eh, err := s.client.HGetAll(ctx, embeddingKey(*m.EmbeddingID)).Result()
		if err != nil {
			return nil, err
		}
		e, err := embeddingFromHash(eh)
		if err != nil || e == nil {
			continue
		}
		out = append(out, registrystore.MessageEmbedding{
			Message:   *m,
			Vector:    e.Vector,
			Model:     e.Model,
			Dimension: e.Dimensions,
		})
	}
	return out, nil
}

func (s *RedisStore) SaveAgentState(ctx context.Context, st *model.AgentState) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, stateKey(st.ThreadID, st.AgentID), stateToHash(st))
	pipe.SAdd(ctx, threadStatesKey(st.ThreadID), st.AgentID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetAgentState(ctx context.Context, threadID, agentID string) (*model.AgentState, error) {
	h, err := s.client.HGetAll(ctx, stateKey(threadID, agentID)).Result()
	if err != nil {
		return nil, err
	}
	return stateFromHash(h)
}

func (s *RedisStore) DeleteThreadAgentState(ctx context.Context, threadID string) error {
	agentIDs, err := s.client.SMembers(ctx, threadStatesKey(threadID)).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, aid := range agentIDs {
		pipe.Del(ctx, stateKey(threadID, aid))
	}
	pipe.Del(ctx, threadStatesKey(threadID))
	_, err = pipe.Exec(ctx)
	return err
}

// HybridSearch has no native primitive on plain redis; the facade falls
// back to semantic search plus a keyword filter.
func (s *RedisStore) HybridSearch(ctx context.Context, q registrystore.HybridQuery) ([]registrystore.SearchHit, error) {
	return nil, registrystore.ErrHybridUnsupported
}

func (s *RedisStore) PutEntity(ctx context.Context, rec *model.EntityRecord) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entityKey(rec.Kind, rec.ID), map[string]any{
		"data":       string(rec.Data),
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, entityIndexKey(rec.Kind), goredis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetEntity(ctx context.Context, kind, id string) (*model.EntityRecord, error) {
	h, err := s.client.HGetAll(ctx, entityKey(kind, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	rec := &model.EntityRecord{Kind: kind, ID: id, Data: []byte(h["data"])}
	if rec.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) DeleteEntity(ctx context.Context, kind, id string) (bool, error) {
	deleted, err := s.client.Del(ctx, entityKey(kind, id)).Result()
	if err != nil {
		return false, err
	}
	if err := s.client.ZRem(ctx, entityIndexKey(kind), id).Err(); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// ListEntities fetches the whole kind and applies the query in memory.
func (s *RedisStore) ListEntities(ctx context.Context, kind string, q registrystore.EntityQuery) ([]model.EntityRecord, error) {
	ids, err := s.client.ZRange(ctx, entityIndexKey(kind), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]model.EntityRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetEntity(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	return registrystore.ApplyEntityQuery(recs, q), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ registrystore.Backend = (*RedisStore)(nil)
