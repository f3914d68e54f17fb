// Package completion turns a transcript snapshot into one assistant reply.
package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-ai/nexus-chat/internal/llm"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

// Gateway makes exactly one provider call per Complete. Retries belong to
// the caller.
type Gateway struct {
	client       llm.Client
	systemPrompt string
	timeout      time.Duration
}

type Option func(*Gateway)

func WithSystemPrompt(prompt string) Option {
	return func(g *Gateway) { g.systemPrompt = prompt }
}

// WithTimeout bounds each provider call; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func NewGateway(client llm.Client, opts ...Option) *Gateway {
	g := &Gateway{client: client}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete returns the assistant reply for snapshot. Every failure is a
// *ProviderError.
func (g *Gateway) Complete(ctx context.Context, snapshot []transcript.Turn) (string, error) {
	if g.client == nil {
		return "", &ProviderError{Kind: KindAuth, Err: fmt.Errorf("no completion provider configured")}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	reply, err := g.client.Complete(ctx, toMessages(g.systemPrompt, snapshot))
	if err != nil {
		return "", classify(err)
	}
	return reply, nil
}

func toMessages(systemPrompt string, snapshot []transcript.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(snapshot)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, turn := range snapshot {
		messages = append(messages, llm.Message{Role: llm.Role(turn.Role), Content: turn.Content})
	}
	return messages
}
