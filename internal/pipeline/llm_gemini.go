package pipeline

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiChatClient runs completions through the Gemini API.
type GeminiChatClient struct {
	client *genai.Client
	model  string
}

// NewGeminiChatClient creates a Gemini client. baseURL is optional and only
// overrides the API endpoint.
func NewGeminiChatClient(ctx context.Context, apiKey, model, baseURL string) (*GeminiChatClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiChatClient{client: gc, model: model}, nil
}

func (g *GeminiChatClient) Complete(ctx context.Context, messages []Message, maxTokens int) (*LLMResult, error) {
	start := time.Now()

	system, contents := ConvertGeminiMessages(messages)
	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if system != nil {
		config.SystemInstruction = system
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrEmptyCompletion
	}

	return &LLMResult{
		Text:      resp.Text(),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

// ConvertGeminiMessages splits system messages into a system instruction and
// maps the rest to user/model contents.
func ConvertGeminiMessages(messages []Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: m.Content})
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, contents
}
