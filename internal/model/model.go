package model

import (
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Metadata is an open string-keyed map restricted to JSON scalars
// (string, float64, bool, nil). Keeping the value set closed makes
// equality and serialization identical across all backends.
type Metadata map[string]any

// Validate rejects non-scalar metadata values. Numeric values are expected
// as float64, which is what encoding/json produces for untyped numbers.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool, nil:
		case int:
			// callers building maps in Go code commonly use int literals
		case int64:
		default:
			return fmt.Errorf("metadata key %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// Normalized returns a copy with integer values widened to float64 so a
// metadata map compares equal before and after a JSON round-trip.
func (m Metadata) Normalized() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

// Thread is a named conversation container.
type Thread struct {
	ID        string     `json:"id"                  gorm:"primaryKey"`
	AgentID   *string    `json:"agentId,omitempty"   gorm:"index"`
	UserID    *string    `json:"userId,omitempty"    gorm:"index"`
	NetworkID *string    `json:"networkId,omitempty"`
	Name      string     `json:"name"                gorm:"not null"`
	Summary   *string    `json:"summary,omitempty"`
	Metadata  Metadata   `json:"metadata"            gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt time.Time  `json:"createdAt"           gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"           gorm:"not null"`
}

func (Thread) TableName() string { return "memory_threads" }

// Message is one immutable turn within a thread. Ordering within a thread is
// by CreatedAt ascending with Seq breaking ties in insertion order.
type Message struct {
	ID          string    `json:"id"                    gorm:"primaryKey"`
	ThreadID    string    `json:"threadId"              gorm:"not null;index"`
	Role        Role      `json:"role"                  gorm:"not null"`
	Content     string    `json:"content"               gorm:"not null"`
	ToolCallID  *string   `json:"toolCallId,omitempty"`
	ToolName    *string   `json:"toolName,omitempty"`
	TokenCount  *int      `json:"tokenCount,omitempty"`
	EmbeddingID *string   `json:"embeddingId,omitempty"`
	Metadata    Metadata  `json:"metadata"              gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt   time.Time `json:"createdAt"             gorm:"not null"`
	Seq         int64     `json:"seq"                   gorm:"autoIncrement"`
}

func (Message) TableName() string { return "memory_messages" }

// Embedding is an immutable fixed-length vector representation of text.
// Dimensions is authoritative: two embeddings are only comparable when their
// dimensions match and their models share a vector space.
type Embedding struct {
	ID         string    `json:"id"         gorm:"primaryKey"`
	Vector     []float32 `json:"vector"     gorm:"-"`
	Model      string    `json:"model"      gorm:"not null"`
	Dimensions int       `json:"dimensions" gorm:"not null"`
}

func (Embedding) TableName() string { return "memory_embeddings" }

// Validate checks the vector/dimensions invariant.
func (e *Embedding) Validate() error {
	if e.Dimensions != len(e.Vector) {
		return fmt.Errorf("embedding %s: dimensions=%d but vector has %d elements", e.ID, e.Dimensions, len(e.Vector))
	}
	return nil
}

// AgentState is an upsertable document keyed by (thread, agent). At most one
// live state document exists per pair.
type AgentState struct {
	ThreadID  string         `json:"threadId"  gorm:"primaryKey"`
	AgentID   string         `json:"agentId"   gorm:"primaryKey"`
	State     map[string]any `json:"state"     gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt time.Time      `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time      `json:"updatedAt" gorm:"not null"`
}

func (AgentState) TableName() string { return "memory_agent_state" }

// EntityRecord is the backend representation of a generic typed entity
// managed by the entity store. Data holds the JSON-encoded entity.
type EntityRecord struct {
	Kind      string    `json:"kind"      gorm:"primaryKey"`
	ID        string    `json:"id"        gorm:"primaryKey"`
	Data      []byte    `json:"data"      gorm:"type:jsonb;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null"`
}

func (EntityRecord) TableName() string { return "memory_entities" }
