package sqlite

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/threadmem/memcore/internal/model"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

// messageRow is the scan target for raw message queries. Nullable columns go
// through database/sql null types and convert to pointers on the way out.
type messageRow struct {
	ID          string
	ThreadID    string
	Role        string
	Content     string
	ToolCallID  sql.NullString
	ToolName    sql.NullString
	TokenCount  sql.NullInt64
	EmbeddingID sql.NullString
	Metadata    []byte
	CreatedAt   time.Time
	Seq         int64
}

func (r *messageRow) scanDests(extra ...any) []any {
	dests := []any{
		&r.ID, &r.ThreadID, &r.Role, &r.Content, &r.ToolCallID, &r.ToolName,
		&r.TokenCount, &r.EmbeddingID, &r.Metadata, &r.CreatedAt, &r.Seq,
	}
	return append(dests, extra...)
}

func (r *messageRow) toModel() model.Message {
	m := model.Message{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Role:      model.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Seq:       r.Seq,
		Metadata:  model.Metadata{},
	}
	if r.ToolCallID.Valid {
		m.ToolCallID = &r.ToolCallID.String
	}
	if r.ToolName.Valid {
		m.ToolName = &r.ToolName.String
	}
	if r.TokenCount.Valid {
		tc := int(r.TokenCount.Int64)
		m.TokenCount = &tc
	}
	if r.EmbeddingID.Valid {
		m.EmbeddingID = &r.EmbeddingID.String
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &m.Metadata)
	}
	return m
}

// vectorJSON encodes a vector as the JSON text form that sqlite-vec's
// distance functions accept, e.g. "[0.1,0.2]".
func vectorJSON(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorJSON(s string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// ftsQuote turns free text into a single FTS5 phrase so user input cannot be
// misread as MATCH syntax.
func ftsQuote(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

const scanSelect = `
	SELECT m.id, m.thread_id, m.role, m.content, m.tool_call_id, m.tool_name,
	       m.token_count, m.embedding_id, m.metadata, m.created_at, m.seq,
	       e.vec, e.model, e.dimensions
	FROM memory_messages m
	JOIN memory_embeddings e ON e.id = m.embedding_id`

func buildScanQuery(scope registrystore.SearchScope) string {
	var b strings.Builder
	b.WriteString(scanSelect)
	var conds []string
	if scope.ThreadID != nil {
		conds = append(conds, "m.thread_id = ?")
	}
	if scope.AgentID != nil {
		b.WriteString("\n\tJOIN memory_threads t ON t.id = m.thread_id")
		conds = append(conds, "t.agent_id = ?")
	}
	if len(conds) > 0 {
		b.WriteString("\n\tWHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString("\n\tORDER BY m.created_at DESC LIMIT ?")
	return b.String()
}

func scanArgs(scope registrystore.SearchScope, scanLimit int) []any {
	var args []any
	if scope.ThreadID != nil {
		args = append(args, *scope.ThreadID)
	}
	if scope.AgentID != nil {
		args = append(args, *scope.AgentID)
	}
	return append(args, scanLimit)
}

func metadataJSON(m model.Metadata) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stateJSON(s map[string]any) string {
	if s == nil {
		return "{}"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
