// Package llm adapts chat-completion providers to a single Client interface.
// Every adapter receives the whole conversation, system prompt first, and
// returns one reply.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultMaxTokens  = 1024
)

var (
	// ErrEmptyResponse is wrapped by every adapter when the provider answered
	// but produced no usable text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrNoConversation is returned before any network call when there are
	// no user or assistant messages to send.
	ErrNoConversation = errors.New("no conversation messages")
)

type Message struct {
	Role    Role
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	maxTokens   int64
	temperature *float64
	httpClient  *http.Client
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the reply length. Spoken replies should stay short.
func WithMaxTokens(n int64) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(o *clientOptions) {
		if t >= 0 {
			o.temperature = &t
		}
	}
}

// WithHTTPClient routes provider traffic through c.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// ParseModel splits "provider/model". Everything after the first slash is
// the model name, so OpenRouter ids such as "openrouter/openai/gpt-4o-mini"
// keep their vendor prefix.
func ParseModel(model string) (provider, modelName string, err error) {
	provider, modelName, ok := strings.Cut(model, "/")
	if !ok || provider == "" || modelName == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return provider, modelName, nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(apiKey, model, o)
	case ProviderOpenRouter:
		if o.baseURL == "" {
			o.baseURL = openRouterBaseURL
		}
		return newOpenAIClient(apiKey, model, o)
	case ProviderAnthropic:
		return newAnthropicClient(apiKey, model, o)
	case ProviderGemini:
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, openrouter, anthropic, gemini", provider)
	}
}

// splitSystem separates system instructions from the conversation for
// providers that take them out of band. Several system messages are joined
// in order. Consecutive turns with the same role are passed through as is.
func splitSystem(messages []Message) (system string, turns []Message, err error) {
	var parts []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			parts = append(parts, m.Content)
		case RoleUser, RoleAssistant:
			turns = append(turns, m)
		}
	}
	if len(turns) == 0 {
		return "", nil, ErrNoConversation
	}
	return strings.Join(parts, "\n\n"), turns, nil
}
