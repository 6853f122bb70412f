// Package postgres implements the relational backend adapter on PostgreSQL
// with the pgvector extension for embedding storage and native hybrid
// search (tsvector keyword rank blended with cosine similarity).
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	registrymigrate "github.com/threadmem/memcore/internal/registry/migrate"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

// ForceImport allows test packages to reference this package so its init()
// registration runs.
var ForceImport struct{}

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.Backend, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres store: MEMCORE_DB_URL is required")
			}
			db, err := openDB(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			return &PostgresStore{db: db}, nil
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func openDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.StoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.WithContext(ctx).Exec(schemaSQL).Error
}

// PostgresStore implements store.Backend against PostgreSQL. The gorm
// connection pool is safe for concurrent use by in-flight facade calls.
type PostgresStore struct {
	db *gorm.DB
}

func (s *PostgresStore) CreateThread(ctx context.Context, t *model.Thread) error {
	return mapWriteError(s.db.WithContext(ctx).Create(t).Error, "thread", t.ID)
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var t model.Thread
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, q registrystore.ThreadQuery) ([]model.Thread, error) {
	tx := s.db.WithContext(ctx).Model(&model.Thread{}).Order("updated_at DESC")
	if q.UserID != nil {
		tx = tx.Where("user_id = ?", *q.UserID)
	}
	if q.AgentID != nil {
		tx = tx.Where("agent_id = ?", *q.AgentID)
	}
	if q.NetworkID != nil {
		tx = tx.Where("network_id = ?", *q.NetworkID)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var threads []model.Thread
	if err := tx.Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (s *PostgresStore) UpdateThread(ctx context.Context, id string, u registrystore.ThreadUpdate) (bool, error) {
	if u.Empty() {
		return false, nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Summary != nil {
		updates["summary"] = *u.Summary
	}
	if u.Metadata != nil {
		updates["metadata"] = metadataJSON(u.Metadata)
	}
	res := s.db.WithContext(ctx).Model(&model.Thread{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *PostgresStore) DeleteThread(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&model.Thread{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *PostgresStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Thread{}).Where("id = ?", id).
		Update("updated_at", at).Error
}

func (s *PostgresStore) SaveMessage(ctx context.Context, m *model.Message) error {
	return mapWriteError(s.db.WithContext(ctx).Create(m).Error, "message", m.ID)
}

// LoadMessages returns a thread's messages ascending by (created_at, seq).
// A positive limit selects the most recent N, still returned ascending.
func (s *PostgresStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	tx := s.db.WithContext(ctx).Where("thread_id = ?", threadID)
	var messages []model.Message
	if limit > 0 {
		if err := tx.Order("created_at DESC, seq DESC").Limit(limit).Find(&messages).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}
	if err := tx.Order("created_at ASC, seq ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *PostgresStore) DeleteThreadMessages(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Delete(&model.Message{}, "thread_id = ?", threadID).Error
}

func (s *PostgresStore) SaveEmbedding(ctx context.Context, e *model.Embedding) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_embeddings (id, model, dimensions, vec)
		VALUES (?, ?, ?, ?::vector)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Model, e.Dimensions, pgvec.NewVector(e.Vector),
	).Error
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, id string) (*model.Embedding, error) {
	row := s.db.WithContext(ctx).Raw(`
		SELECT id, model, dimensions, vec FROM memory_embeddings WHERE id = ?`, id).Row()
	var e model.Embedding
	var vec pgvec.Vector
	if err := row.Scan(&e.ID, &e.Model, &e.Dimensions, &vec); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	e.Vector = vec.Slice()
	return &e, nil
}

func (s *PostgresStore) ListMessageEmbeddings(ctx context.Context, scope registrystore.SearchScope, scanLimit int) ([]registrystore.MessageEmbedding, error) {
	tx := s.db.WithContext(ctx).Raw(buildScanQuery(scope, scanLimit), scanArgs(scope, scanLimit)...)
	rows, err := tx.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.MessageEmbedding
	for rows.Next() {
		var rec messageRow
		var vec pgvec.Vector
		var eModel string
		var dims int
		if err := rows.Scan(rec.scanDests(&vec, &eModel, &dims)...); err != nil {
			return nil, err
		}
		out = append(out, registrystore.MessageEmbedding{
			Message:   rec.toModel(),
			Vector:    vec.Slice(),
			Model:     eModel,
			Dimension: dims,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAgentState(ctx context.Context, st *model.AgentState) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_agent_state (thread_id, agent_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, agent_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		st.ThreadID, st.AgentID, stateJSON(st.State), st.CreatedAt, st.UpdatedAt,
	).Error
}

func (s *PostgresStore) GetAgentState(ctx context.Context, threadID, agentID string) (*model.AgentState, error) {
	var st model.AgentState
	err := s.db.WithContext(ctx).First(&st, "thread_id = ? AND agent_id = ?", threadID, agentID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) DeleteThreadAgentState(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Delete(&model.AgentState{}, "thread_id = ?", threadID).Error
}

// HybridSearch blends pgvector cosine similarity with tsvector keyword rank
// in a single query: score = alpha*vector + (1-alpha)*keyword.
func (s *PostgresStore) HybridSearch(ctx context.Context, q registrystore.HybridQuery) ([]registrystore.SearchHit, error) {
	vec := pgvec.NewVector(q.Vector)
	args := []any{
		q.Alpha, vec,
		1 - q.Alpha, q.Query,
	}
	sql := `
		SELECT m.id, m.thread_id, m.role, m.content, m.tool_call_id, m.tool_name,
		       m.token_count, m.embedding_id, m.metadata, m.created_at, m.seq,
		       (? * (1 - (e.vec <=> ?::vector))
		        + ? * ts_rank(to_tsvector('english', m.content), plainto_tsquery('english', ?))) AS score
		FROM memory_messages m
		JOIN memory_embeddings e ON e.id = m.embedding_id`
	where := ""
	if q.Scope.ThreadID != nil {
		where = " WHERE m.thread_id = ?"
		args = append(args, *q.Scope.ThreadID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	sql += where + " ORDER BY score DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []registrystore.SearchHit
	for rows.Next() {
		var rec messageRow
		var score float64
		if err := rows.Scan(rec.scanDests(&score)...); err != nil {
			return nil, err
		}
		hits = append(hits, registrystore.SearchHit{Message: rec.toModel(), Similarity: score})
	}
	return hits, rows.Err()
}

func (s *PostgresStore) PutEntity(ctx context.Context, rec *model.EntityRecord) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_entities (kind, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		rec.Kind, rec.ID, string(rec.Data), rec.CreatedAt, rec.UpdatedAt,
	).Error
}

func (s *PostgresStore) GetEntity(ctx context.Context, kind, id string) (*model.EntityRecord, error) {
	var rec model.EntityRecord
	err := s.db.WithContext(ctx).First(&rec, "kind = ? AND id = ?", kind, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, kind, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&model.EntityRecord{}, "kind = ? AND id = ?", kind, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListEntities filters server-side using jsonb field extraction, so the
// generic entity store does not have to fall back to in-memory filtering on
// this backend.
func (s *PostgresStore) ListEntities(ctx context.Context, kind string, q registrystore.EntityQuery) ([]model.EntityRecord, error) {
	tx := s.db.WithContext(ctx).Model(&model.EntityRecord{}).Where("kind = ?", kind)
	for field, want := range q.Equals {
		tx = tx.Where("data ->> ? = ?", field, fmt.Sprintf("%v", want))
	}
	if q.OrderBy != "" {
		field, ok := safeFieldName(q.OrderBy)
		if !ok {
			return nil, &registrystore.ValidationError{Field: "orderBy", Message: "invalid field name"}
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("data ->> '%s' %s", field, dir))
	} else {
		tx = tx.Order("created_at ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var recs []model.EntityRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ registrystore.Backend = (*PostgresStore)(nil)
