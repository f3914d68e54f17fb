// Package transcript holds ordered conversation history.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation. Turns are values and are never
// mutated after creation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTurn(role Role, content string, now time.Time) Turn {
	if now.IsZero() {
		now = time.Now()
	}
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now.UTC(),
	}
}

func UserTurn(content string) Turn {
	return NewTurn(RoleUser, content, time.Now())
}

func AssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content, time.Now())
}
