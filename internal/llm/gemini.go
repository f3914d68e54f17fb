package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature *float32
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.baseURL != "" {
		config.HTTPOptions.BaseURL = opts.baseURL
	}
	if opts.httpClient != nil {
		config.HTTPClient = opts.httpClient
	}

	client, err := genai.NewClient(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	c := &geminiClient{client: client, model: model, maxTokens: int32(opts.maxTokens)}
	if opts.temperature != nil {
		t := float32(*opts.temperature)
		c.temperature = &t
	}
	return c, nil
}

// geminiContents maps the conversation onto Gemini's user/model roles.
func geminiContents(messages []Message) (*genai.Content, []*genai.Content, error) {
	system, turns, err := splitSystem(messages)
	if err != nil {
		return nil, nil, err
	}

	var instruction *genai.Content
	if system != "" {
		instruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return instruction, contents, nil
}

func (c *geminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	instruction, contents, err := geminiContents(messages)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: instruction,
		MaxOutputTokens:   c.maxTokens,
		Temperature:       c.temperature,
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}
