package redis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadmem/memcore/internal/model"
)

// asStringMap mimics what HGetAll returns for a hash written with HSet.
func asStringMap(h map[string]any) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func TestThreadHashRoundTrip(t *testing.T) {
	agent := "agent-1"
	summary := "about foxes"
	in := &model.Thread{
		ID:        "t1",
		AgentID:   &agent,
		Name:      "fox research",
		Summary:   &summary,
		Metadata:  model.Metadata{"priority": float64(2), "pinned": true},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
		UpdatedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}

	out, err := threadFromHash(asStringMap(threadToHash(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestThreadFromHashOptionalFieldsAbsent(t *testing.T) {
	in := &model.Thread{
		ID:        "t1",
		Name:      "bare",
		Metadata:  model.Metadata{},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	out, err := threadFromHash(asStringMap(threadToHash(in)))
	require.NoError(t, err)
	assert.Nil(t, out.AgentID)
	assert.Nil(t, out.UserID)
	assert.Nil(t, out.Summary)
}

func TestThreadFromHashEmpty(t *testing.T) {
	out, err := threadFromHash(map[string]string{})
	require.NoError(t, err)
	assert.Nil(t, out, "missing hash decodes to nil, not an empty thread")
}

func TestMessageHashRoundTrip(t *testing.T) {
	toolCall := "call-9"
	toolName := "search"
	tokenCount := 42
	embID := "emb-1"
	in := &model.Message{
		ID:          "m1",
		ThreadID:    "t1",
		Role:        model.RoleTool,
		Content:     "result payload",
		ToolCallID:  &toolCall,
		ToolName:    &toolName,
		TokenCount:  &tokenCount,
		EmbeddingID: &embID,
		Metadata:    model.Metadata{"has_embedding": false},
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seq:         17,
	}

	out, err := messageFromHash(asStringMap(messageToHash(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmbeddingHashRoundTrip(t *testing.T) {
	in := &model.Embedding{
		ID:         "e1",
		Vector:     []float32{0.25, -0.5, 1},
		Model:      "memcore-hashed-bow",
		Dimensions: 3,
	}
	out, err := embeddingFromHash(asStringMap(embeddingToHash(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	require.NoError(t, out.Validate())
}

func TestStateHashRoundTrip(t *testing.T) {
	in := &model.AgentState{
		ThreadID:  "t1",
		AgentID:   "a1",
		State:     map[string]any{"step": float64(2)},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	out, err := stateFromHash(asStringMap(stateToHash(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, err := messageFromHash(map[string]string{
		"id": "m1", "thread_id": "t1", "role": "user",
		"content": "x", "created_at": "not-a-time", "seq": "1",
	})
	assert.Error(t, err)
}
