package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"webforge/internal/logging"
)

// GeminiClient talks to the Gemini API through the official SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// toGeminiContents splits messages into the system instruction and the
// conversation contents the SDK expects.
func toGeminiContents(messages []Message) (*genai.GenerateContentConfig, []*genai.Content) {
	var cfg *genai.GenerateContentConfig
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if cfg == nil {
				cfg = &genai.GenerateContentConfig{}
			}
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return cfg, contents
}

// Chat sends a conversation and returns the full response text.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message) (string, error) {
	logging.Get(logging.CategoryLLM).Debugf("gemini chat request: model=%s messages=%d", c.model, len(messages))

	cfg, contents := toGeminiContents(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

// ChatStream streams the response, invoking fn per text chunk.
func (c *GeminiClient) ChatStream(ctx context.Context, messages []Message, fn func(string) error) (string, error) {
	cfg, contents := toGeminiContents(messages)

	var sb strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return sb.String(), fmt.Errorf("gemini stream failed: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if fn != nil {
			if err := fn(chunk); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}
