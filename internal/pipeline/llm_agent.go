package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentChatClient runs a single-turn agent through the openai-agents-go SDK.
// System messages become the agent instructions; the remaining history is
// flattened into the run input.
type AgentChatClient struct {
	provider agents.ModelProvider
	model    string
}

// NewAgentChatClient creates an agent-backed completer for an
// OpenAI-compatible chat completions endpoint.
func NewAgentChatClient(baseURL, apiKey, model string) *AgentChatClient {
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(apiKey),
		BaseURL:      param.NewOpt(baseURL),
		UseResponses: param.NewOpt(false),
	})
	return &AgentChatClient{provider: provider, model: model}
}

func (a *AgentChatClient) Complete(ctx context.Context, messages []Message, maxTokens int) (*LLMResult, error) {
	instructions, input := splitAgentInput(messages)

	agent := agents.New("voice-relay").
		WithInstructions(instructions).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	result, err := runner.Run(ctx, agent, input)
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}
	if result == nil || result.FinalOutput == nil {
		return nil, ErrEmptyCompletion
	}

	return &LLMResult{
		Text:      fmt.Sprint(result.FinalOutput),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func splitAgentInput(messages []Message) (string, string) {
	var sys []string
	var turns []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 1 {
		return strings.Join(sys, "\n\n"), turns[0].Content
	}
	var b strings.Builder
	for i, m := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Role == RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
	}
	return strings.Join(sys, "\n\n"), b.String()
}
