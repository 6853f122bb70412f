// Package metrics decorates a store.Backend with per-operation latency
// histograms.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/threadmem/memcore/internal/model"
	"github.com/threadmem/memcore/internal/registry/store"
)

// StoreLatency records backend operation latency in seconds, labeled by
// operation name.
var StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "memcore_store_latency_seconds",
	Help:    "Latency of backend store operations in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"op"})

// Wrap returns a Backend that records StoreLatency for every operation.
func Wrap(inner store.Backend) store.Backend {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Backend
}

func observe(op string, start time.Time) {
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateThread(ctx context.Context, t *model.Thread) error {
	defer observe("create_thread", time.Now())
	return m.inner.CreateThread(ctx, t)
}

func (m *metricsStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	defer observe("get_thread", time.Now())
	return m.inner.GetThread(ctx, id)
}

func (m *metricsStore) ListThreads(ctx context.Context, q store.ThreadQuery) ([]model.Thread, error) {
	defer observe("list_threads", time.Now())
	return m.inner.ListThreads(ctx, q)
}

func (m *metricsStore) UpdateThread(ctx context.Context, id string, u store.ThreadUpdate) (bool, error) {
	defer observe("update_thread", time.Now())
	return m.inner.UpdateThread(ctx, id, u)
}

func (m *metricsStore) DeleteThread(ctx context.Context, id string) (bool, error) {
	defer observe("delete_thread", time.Now())
	return m.inner.DeleteThread(ctx, id)
}

func (m *metricsStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	defer observe("touch_thread", time.Now())
	return m.inner.TouchThread(ctx, id, at)
}

func (m *metricsStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	defer observe("save_message", time.Now())
	return m.inner.SaveMessage(ctx, msg)
}

func (m *metricsStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	defer observe("load_messages", time.Now())
	return m.inner.LoadMessages(ctx, threadID, limit)
}

func (m *metricsStore) DeleteThreadMessages(ctx context.Context, threadID string) error {
	defer observe("delete_thread_messages", time.Now())
	return m.inner.DeleteThreadMessages(ctx, threadID)
}

func (m *metricsStore) SaveEmbedding(ctx context.Context, e *model.Embedding) error {
	defer observe("save_embedding", time.Now())
	return m.inner.SaveEmbedding(ctx, e)
}

func (m *metricsStore) GetEmbedding(ctx context.Context, id string) (*model.Embedding, error) {
	defer observe("get_embedding", time.Now())
	return m.inner.GetEmbedding(ctx, id)
}

func (m *metricsStore) ListMessageEmbeddings(ctx context.Context, scope store.SearchScope, scanLimit int) ([]store.MessageEmbedding, error) {
	defer observe("list_message_embeddings", time.Now())
	return m.inner.ListMessageEmbeddings(ctx, scope, scanLimit)
}

func (m *metricsStore) SaveAgentState(ctx context.Context, st *model.AgentState) error {
	defer observe("save_agent_state", time.Now())
	return m.inner.SaveAgentState(ctx, st)
}

func (m *metricsStore) GetAgentState(ctx context.Context, threadID, agentID string) (*model.AgentState, error) {
	defer observe("get_agent_state", time.Now())
	return m.inner.GetAgentState(ctx, threadID, agentID)
}

func (m *metricsStore) DeleteThreadAgentState(ctx context.Context, threadID string) error {
	defer observe("delete_thread_agent_state", time.Now())
	return m.inner.DeleteThreadAgentState(ctx, threadID)
}

func (m *metricsStore) HybridSearch(ctx context.Context, q store.HybridQuery) ([]store.SearchHit, error) {
	defer observe("hybrid_search", time.Now())
	return m.inner.HybridSearch(ctx, q)
}

func (m *metricsStore) PutEntity(ctx context.Context, rec *model.EntityRecord) error {
	defer observe("put_entity", time.Now())
	return m.inner.PutEntity(ctx, rec)
}

func (m *metricsStore) GetEntity(ctx context.Context, kind, id string) (*model.EntityRecord, error) {
	defer observe("get_entity", time.Now())
	return m.inner.GetEntity(ctx, kind, id)
}

func (m *metricsStore) DeleteEntity(ctx context.Context, kind, id string) (bool, error) {
	defer observe("delete_entity", time.Now())
	return m.inner.DeleteEntity(ctx, kind, id)
}

func (m *metricsStore) ListEntities(ctx context.Context, kind string, q store.EntityQuery) ([]model.EntityRecord, error) {
	defer observe("list_entities", time.Now())
	return m.inner.ListEntities(ctx, kind, q)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}

func (m *metricsStore) Close() error {
	defer observe("close", time.Now())
	return m.inner.Close()
}

var _ store.Backend = (*metricsStore)(nil)
