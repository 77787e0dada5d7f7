// Package memory keeps the ordered conversation turns of each chat session.
package memory

import (
	"context"
	"time"
)

// Memory stores the turns of every session.
// Sessions are independent; appends to one session are serialized.
type Memory interface {
	// Append commits turns atomically to the end of the session and returns
	// them with their assigned indexes. The session is created if absent.
	Append(ctx context.Context, sessionID string, turns ...Turn) ([]Turn, error)

	// Get returns a copy of the retained turns in insertion order.
	Get(ctx context.Context, sessionID string) ([]Turn, error)

	// Reset clears the turns of one session. The id stays usable and
	// later turns keep counting from where the session left off.
	Reset(ctx context.Context, sessionID string) error

	// Sessions returns the number of sessions held in memory.
	Sessions() int

	Close() error
}

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Turn is one immutable entry of a conversation.
type Turn struct {
	Index     int64       `json:"index"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Tool      *ToolRecord `json:"tool,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToolRecord audits one tool invocation inside a tool turn.
type ToolRecord struct {
	Name     string        `json:"name"`
	Input    string        `json:"input"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Checkpointer persists committed turns so sessions survive restarts.
type Checkpointer interface {
	// Load returns the last maxTurns turns and the next index of a session.
	// found is false when the session was never checkpointed.
	Load(ctx context.Context, sessionID string, maxTurns int) (turns []Turn, nextIndex int64, found bool, err error)
	// Save appends turns in one transaction.
	Save(ctx context.Context, sessionID string, turns []Turn) error
	// Reset drops persisted turns while remembering nextIndex.
	Reset(ctx context.Context, sessionID string, nextIndex int64) error
	Close() error
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		if t.Tool != nil {
			tool := *t.Tool
			t.Tool = &tool
		}
		out[i] = t
	}
	return out
}
