package redis

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/threadmem/memcore/internal/model"
)

// Entity converters between canonical models and redis hash field maps.
// Kept as pure functions so the record shapes can be tested without a
// server. Timestamps travel as RFC3339Nano strings, vectors and open maps
// as JSON.

func threadToHash(t *model.Thread) map[string]any {
	h := map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"metadata":   jsonString(t.Metadata),
		"created_at": t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": t.UpdatedAt.Format(time.RFC3339Nano),
	}
	if t.AgentID != nil {
		h["agent_id"] = *t.AgentID
	}
	if t.UserID != nil {
		h["user_id"] = *t.UserID
	}
	if t.NetworkID != nil {
		h["network_id"] = *t.NetworkID
	}
	if t.Summary != nil {
		h["summary"] = *t.Summary
	}
	return h
}

func threadFromHash(h map[string]string) (*model.Thread, error) {
	if len(h) == 0 {
		return nil, nil
	}
	t := &model.Thread{
		ID:       h["id"],
		Name:     h["name"],
		Metadata: model.Metadata{},
	}
	t.AgentID = optString(h, "agent_id")
	t.UserID = optString(h, "user_id")
	t.NetworkID = optString(h, "network_id")
	t.Summary = optString(h, "summary")
	if raw := h["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Metadata); err != nil {
			return nil, err
		}
	}
	var err error
	if t.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, err
	}
	return t, nil
}

func messageToHash(m *model.Message) map[string]any {
	h := map[string]any{
		"id":         m.ID,
		"thread_id":  m.ThreadID,
		"role":       string(m.Role),
		"content":    m.Content,
		"metadata":   jsonString(m.Metadata),
		"created_at": m.CreatedAt.Format(time.RFC3339Nano),
		"seq":        strconv.FormatInt(m.Seq, 10),
	}
	if m.ToolCallID != nil {
		h["tool_call_id"] = *m.ToolCallID
	}
	if m.ToolName != nil {
		h["tool_name"] = *m.ToolName
	}
	if m.TokenCount != nil {
		h["token_count"] = strconv.Itoa(*m.TokenCount)
	}
	if m.EmbeddingID != nil {
		h["embedding_id"] = *m.EmbeddingID
	}
	return h
}

func messageFromHash(h map[string]string) (*model.Message, error) {
	if len(h) == 0 {
		return nil, nil
	}
	m := &model.Message{
		ID:       h["id"],
		ThreadID: h["thread_id"],
		Role:     model.Role(h["role"]),
		Content:  h["content"],
		Metadata: model.Metadata{},
	}
	m.ToolCallID = optString(h, "tool_call_id")
	m.ToolName = optString(h, "tool_name")
	m.EmbeddingID = optString(h, "embedding_id")
	if raw, ok := h["token_count"]; ok && raw != "" {
		tc, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		m.TokenCount = &tc
	}
	if raw := h["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
			return nil, err
		}
	}
	var err error
	if m.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if raw := h["seq"]; raw != "" {
		if m.Seq, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func embeddingToHash(e *model.Embedding) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"model":      e.Model,
		"dimensions": strconv.Itoa(e.Dimensions),
		"vector":     jsonString(e.Vector),
	}
}

func embeddingFromHash(h map[string]string) (*model.Embedding, error) {
	if len(h) == 0 {
		return nil, nil
	}
	e := &model.Embedding{
		ID:    h["id"],
		Model: h["model"],
	}
	var err error
	if e.Dimensions, err = strconv.Atoi(h["dimensions"]); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(h["vector"]), &e.Vector); err != nil {
		return nil, err
	}
	return e, nil
}

func stateToHash(s *model.AgentState) map[string]any {
	return map[string]any{
		"thread_id":  s.ThreadID,
		"agent_id":   s.AgentID,
		"state":      jsonString(s.State),
		"created_at": s.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": s.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func stateFromHash(h map[string]string) (*model.AgentState, error) {
	if len(h) == 0 {
		return nil, nil
	}
	s := &model.AgentState{
		ThreadID: h["thread_id"],
		AgentID:  h["agent_id"],
		State:    map[string]any{},
	}
	if raw := h["state"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.State); err != nil {
			return nil, err
		}
	}
	var err error
	if s.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, err
	}
	return s, nil
}

func jsonString(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func optString(h map[string]string, key string) *string {
	if v, ok := h[key]; ok && v != "" {
		return &v
	}
	return nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
