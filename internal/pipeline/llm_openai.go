package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIChatClient talks to any OpenAI-compatible chat completions API
// (DeepSeek by default).
type OpenAIChatClient struct {
	client openai.Client
	model  string
}

// NewOpenAIChatClient creates a client bound to one base URL and model.
// Retries are disabled; a failed call fails the turn.
func NewOpenAIChatClient(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIChatClient {
	return &OpenAIChatClient{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		model: model,
	}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, messages []Message, maxTokens int) (*LLMResult, error) {
	start := time.Now()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  toOpenAIMessages(messages),
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	return &LLMResult{
		Text:      resp.Choices[0].Message.Content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
