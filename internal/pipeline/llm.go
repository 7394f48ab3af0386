package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hubenschmidt/voice-relay/internal/prompts"
	"github.com/hubenschmidt/voice-relay/internal/store"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when an engine answers without any choice.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer runs one non-streaming chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message, maxTokens int) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing.
type LLMResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// LLMRouter dispatches to the correct LLM backend based on engine name.
type LLMRouter struct {
	*Router[Completer]
}

// NewLLMRouter creates a router with registered LLM backends and a fallback default.
func NewLLMRouter(backends map[string]Completer, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Complete routes to the correct backend and runs the completion.
func (r *LLMRouter) Complete(ctx context.Context, engine string, messages []Message, maxTokens int) (*LLMResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Complete(ctx, messages, maxTokens)
}

// BuildMessages assembles the role prompt, prior turns (oldest first) and the
// new user message into one completion request.
func BuildMessages(rolePrompt string, history []store.Turn, userText string) []Message {
	msgs := make([]Message, 0, 2+2*len(history))
	msgs = append(msgs, Message{Role: RoleSystem, Content: prompts.ForRole(rolePrompt)})
	for _, t := range history {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: t.UserMessage},
			Message{Role: RoleAssistant, Content: t.AssistantMessage},
		)
	}
	return append(msgs, Message{Role: RoleUser, Content: userText})
}

// BuildTitleMessages asks for a short title summarizing the first exchange.
func BuildTitleMessages(rolePrompt, userText, reply string) []Message {
	return []Message{
		{Role: RoleSystem, Content: prompts.ForRole(rolePrompt)},
		{Role: RoleUser, Content: userText},
		{Role: RoleAssistant, Content: reply},
		{Role: RoleUser, Content: prompts.Title},
	}
}

// CleanTitle trims quotes and whitespace and bounds the title length.
func CleanTitle(raw string) string {
	title := strings.SplitN(strings.TrimSpace(raw), "\n", 2)[0]
	title = strings.Trim(strings.TrimSpace(title), "\"'“”‘’《》「」")
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > prompts.TitleMaxRunes {
		title = string([]rune(title)[:prompts.TitleMaxRunes])
	}
	return title
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrEmptyCompletion):
		return "empty"
	default:
		return "upstream"
	}
}

// --- Ollama backend ---

// OllamaLLMClient runs chat completions against Ollama's /api/chat.
type OllamaLLMClient struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaLLMClient creates an Ollama HTTP client.
func NewOllamaLLMClient(url, model string, client *http.Client) *OllamaLLMClient {
	return &OllamaLLMClient{url: strings.TrimRight(url, "/"), model: model, client: client}
}

func (c *OllamaLLMClient) Complete(ctx context.Context, messages []Message, maxTokens int) (*LLMResult, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaRequest{
		Model:    c.model,
		Stream:   false,
		Messages: messages,
		Options:  ollamaOptions{NumPredict: maxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, errBody)
	}

	var out ollamaResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Message == nil {
		return nil, ErrEmptyCompletion
	}
	return &LLMResult{Text: out.Message.Content, LatencyMs: float64(time.Since(start).Milliseconds())}, nil
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []Message     `json:"messages"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaResponse struct {
	Message *Message `json:"message"`
	Done    bool     `json:"done"`
}
