package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

// Kind distinguishes transcript turns from local display rows.
type Kind string

const (
	KindTurn   Kind = "turn"
	KindTyping Kind = "typing"
	KindNotice Kind = "notice"
	KindError  Kind = "error"
)

const (
	greeting      = "Hey there! I'm Nexus. Ask me anything."
	clearedNotice = "Chat cleared. What's on your mind?"
	introText     = "Namaste! I am Nexus AI, an intelligent chatbot with an animated robot interface. Ask me anything."

	timeoutReason      = "The assistant did not respond in time."
	disconnectedReason = "Not connected to the server."
)

// Message is one row of the rendered conversation.
type Message struct {
	ID        string          `json:"id"`
	Role      transcript.Role `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
}

func turnMessage(t transcript.Turn) Message {
	return Message{ID: t.ID, Role: t.Role, Content: t.Content, Timestamp: t.Timestamp, Kind: KindTurn}
}

func localMessage(kind Kind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      transcript.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}
