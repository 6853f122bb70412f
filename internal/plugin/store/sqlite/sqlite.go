// Package sqlite implements the embedded backend adapter on SQLite with the
// sqlite-vec extension for vector distance and FTS5 for the keyword leg of
// hybrid search. A single file on disk carries the full data model, which
// makes this backend the zero-infrastructure option for local agents.
//
// The FTS5 keyword leg needs mattn/go-sqlite3 compiled with the sqlite_fts5
// build tag. Without it the adapter still works: migration skips the FTS
// index and HybridSearch reports ErrHybridUnsupported, so the facade serves
// hybrid queries from its scan fallback.
package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/model"
	registrymigrate "github.com/threadmem/memcore/internal/registry/migrate"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

const ftsSchemaSQL = `CREATE VIRTUAL TABLE IF NOT EXISTS memory_messages_fts USING fts5(message_id UNINDEXED, content);`

// ForceImport allows test packages to reference this package so its init()
// registration runs.
var ForceImport struct{}

func init() {
	// Load sqlite-vec into every new connection so vec_distance_cosine is
	// available to the hybrid search query.
	sqlite_vec.Auto()

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.Backend, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.SQLitePath == "" {
				return nil, fmt.Errorf("sqlite store: MEMCORE_SQLITE_PATH is required")
			}
			db, err := openDB(cfg.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// SQLite serializes writers; a single connection avoids
			// SQLITE_BUSY churn under concurrent facade calls.
			sqlDB.SetMaxOpenConns(1)
			return &SQLiteStore{db: db, fts: ftsAvailable(db)}, nil
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 110, Migrator: &sqliteMigrator{}})
}

func openDB(path string) (*gorm.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
}

// ftsAvailable reports whether the linked SQLite was compiled with FTS5.
func ftsAvailable(db *gorm.DB) bool {
	var used int
	if err := db.Raw(`SELECT sqlite_compileoption_used('ENABLE_FTS5')`).Scan(&used).Error; err != nil {
		return false
	}
	return used == 1
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.StoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("migration: failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.WithContext(ctx).Exec(schemaSQL).Error; err != nil {
		return err
	}
	if !ftsAvailable(db) {
		log.Warn("FTS5 is not compiled in, hybrid search will use the scan fallback",
			"hint", "build with -tags sqlite_fts5")
		return nil
	}
	return db.WithContext(ctx).Exec(ftsSchemaSQL).Error
}

// SQLiteStore implements store.Backend against an embedded SQLite database.
type SQLiteStore struct {
	db  *gorm.DB
	fts bool
}

func (s *SQLiteStore) CreateThread(ctx context.Context, t *model.Thread) error {
	return mapWriteError(s.db.WithContext(ctx).Create(t).Error, "thread", t.ID)
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
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

func (s *SQLiteStore) ListThreads(ctx context.Context, q registrystore.ThreadQuery) ([]model.Thread, error) {
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

func (s *SQLiteStore) UpdateThread(ctx context.Context, id string, u registrystore.ThreadUpdate) (bool, error) {
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

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&model.Thread{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLiteStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Thread{}).Where("id = ?", id).
		Update("updated_at", at).Error
}

// SaveMessage assigns the insertion sequence inside the insert itself, so two
// writers racing on the serialized sqlite connection still get distinct seqs.
// The FTS index row is written in the same transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *model.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO memory_messages
				(id, thread_id, role, content, tool_call_id, tool_name,
				 token_count, embedding_id, metadata, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
				(SELECT COALESCE(MAX(seq), 0) + 1 FROM memory_messages))`,
			m.ID, m.ThreadID, string(m.Role), m.Content, m.ToolCallID, m.ToolName,
			m.TokenCount, m.EmbeddingID, metadataJSON(m.Metadata), m.CreatedAt,
		).Error
		if err != nil {
			return err
		}
		row := tx.Raw(`SELECT seq FROM memory_messages WHERE id = ?`, m.ID).Row()
		if err := row.Scan(&m.Seq); err != nil {
			return err
		}
		if !s.fts {
			return nil
		}
		return tx.Exec(`INSERT INTO memory_messages_fts (message_id, content) VALUES (?, ?)`,
			m.ID, m.Content).Error
	})
	return mapWriteError(err, "message", m.ID)
}

// LoadMessages returns a thread's messages ascending by (created_at, seq).
// A positive limit selects the most recent N, still returned ascending.
func (s *SQLiteStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
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

func (s *SQLiteStore) DeleteThreadMessages(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.fts {
			err := tx.Exec(`
				DELETE FROM memory_messages_fts
				WHERE message_id IN (SELECT id FROM memory_messages WHERE thread_id = ?)`,
				threadID).Error
			if err != nil {
				return err
			}
		}
		return tx.Delete(&model.Message{}, "thread_id = ?", threadID).Error
	})
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, e *model.Embedding) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_embeddings (id, model, dimensions, vec)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Model, e.Dimensions, vectorJSON(e.Vector),
	).Error
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string) (*model.Embedding, error) {
	row := s.db.WithContext(ctx).Raw(`
		SELECT id, model, dimensions, vec FROM memory_embeddings WHERE id = ?`, id).Row()
	var e model.Embedding
	var vec string
	if err := row.Scan(&e.ID, &e.Model, &e.Dimensions, &vec); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := parseVectorJSON(vec)
	if err != nil {
		return nil, err
	}
	e.Vector = parsed
	return &e, nil
}

func (s *SQLiteStore) ListMessageEmbeddings(ctx context.Context, scope registrystore.SearchScope, scanLimit int) ([]registrystore.MessageEmbedding, error) {
	tx := s.db.WithContext(ctx).Raw(buildScanQuery(scope), scanArgs(scope, scanLimit)...)
	rows, err := tx.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.MessageEmbedding
	for rows.Next() {
		var rec messageRow
		var vec string
		var eModel string
		var dims int
		if err := rows.Scan(rec.scanDests(&vec, &eModel, &dims)...); err != nil {
			return nil, err
		}
		parsed, err := parseVectorJSON(vec)
		if err != nil {
			return nil, err
		}
		out = append(out, registrystore.MessageEmbedding{
			Message:   rec.toModel(),
			Vector:    parsed,
			Model:     eModel,
			Dimension: dims,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAgentState(ctx context.Context, st *model.AgentState) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_agent_state (thread_id, agent_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, agent_id)
		DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.ThreadID, st.AgentID, stateJSON(st.State), st.CreatedAt, st.UpdatedAt,
	).Error
}

func (s *SQLiteStore) GetAgentState(ctx context.Context, threadID, agentID string) (*model.AgentState, error) {
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

func (s *SQLiteStore) DeleteThreadAgentState(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Delete(&model.AgentState{}, "thread_id = ?", threadID).Error
}

// HybridSearch blends sqlite-vec cosine similarity with an FTS5 phrase match
// in a single query: score = alpha*vector + (1-alpha)*keyword. The keyword
// leg is binary (matched or not) since bm25 rank is not normalized. Without
// FTS5 compiled in there is no native keyword leg to offer.
func (s *SQLiteStore) HybridSearch(ctx context.Context, q registrystore.HybridQuery) ([]registrystore.SearchHit, error) {
	if !s.fts {
		return nil, registrystore.ErrHybridUnsupported
	}
	vec := vectorJSON(q.Vector)
	args := []any{
		q.Alpha, vec,
		1 - q.Alpha,
		ftsQuote(q.Query),
	}
	sql := `
		SELECT m.id, m.thread_id, m.role, m.content, m.tool_call_id, m.tool_name,
		       m.token_count, m.embedding_id, m.metadata, m.created_at, m.seq,
		       (? * (1.0 - vec_distance_cosine(e.vec, ?))
		        + ? * CASE WHEN f.message_id IS NOT NULL THEN 1.0 ELSE 0.0 END) AS score
		FROM memory_messages m
		JOIN memory_embeddings e ON e.id = m.embedding_id
		LEFT JOIN (
			SELECT message_id FROM memory_messages_fts WHERE memory_messages_fts MATCH ?
		) f ON f.message_id = m.id`
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

func (s *SQLiteStore) PutEntity(ctx context.Context, rec *model.EntityRecord) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_entities (kind, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rec.Kind, rec.ID, string(rec.Data), rec.CreatedAt, rec.UpdatedAt,
	).Error
}

func (s *SQLiteStore) GetEntity(ctx context.Context, kind, id string) (*model.EntityRecord, error) {
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

func (s *SQLiteStore) DeleteEntity(ctx context.Context, kind, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&model.EntityRecord{}, "kind = ? AND id = ?", kind, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListEntities filters server-side with json_extract, mirroring the postgres
// adapter's jsonb field extraction.
func (s *SQLiteStore) ListEntities(ctx context.Context, kind string, q registrystore.EntityQuery) ([]model.EntityRecord, error) {
	tx := s.db.WithContext(ctx).Model(&model.EntityRecord{}).Where("kind = ?", kind)
	for field, want := range q.Equals {
		tx = tx.Where("CAST(json_extract(data, '$.' || ?) AS TEXT) = ?", field, fmt.Sprintf("%v", want))
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
		tx = tx.Order(fmt.Sprintf("json_extract(data, '$.%s') %s", field, dir))
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ registrystore.Backend = (*SQLiteStore)(nil)
