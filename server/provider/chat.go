package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"

	"github.com/teilomillet/relay/config"
)

const (
	anthropicVersion = "2023-06-01"
	maxResponseBody  = 4 << 20
)

var defaultBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"ollama":    "http://localhost:11434",
}

// ChatModel is a Generator that calls a provider's chat endpoint directly.
// Prompt messages keep their roles on the wire: a system message stays a
// system message instead of being folded into the user text.
type ChatModel struct {
	http        *http.Client
	provider    string
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
}

// ChatOption configures a ChatModel.
type ChatOption func(*ChatModel)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ChatOption {
	return func(m *ChatModel) {
		m.http = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(baseURL string) ChatOption {
	return func(m *ChatModel) {
		m.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewChatModel creates the model described by cfg. Each Generate call makes
// a single request; there are no retries.
func NewChatModel(cfg config.LLMConfig, opts ...ChatOption) (*ChatModel, error) {
	base, ok := defaultBaseURLs[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("create LLM: unsupported provider %q", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	m := &ChatModel{
		http:        &http.Client{Timeout: cfg.Timeout},
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(base, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
}

// Generate sends prompt's messages, in order, and returns the reply text.
// Generate options are not used.
func (m *ChatModel) Generate(ctx context.Context, prompt *gollm.Prompt, _ ...llm.GenerateOption) (string, error) {
	if prompt == nil || len(prompt.Messages) == 0 {
		return "", fmt.Errorf("%s: prompt has no messages", m.provider)
	}
	messages := make([]chatMessage, 0, len(prompt.Messages))
	for _, pm := range prompt.Messages {
		messages = append(messages, chatMessage{Role: pm.Role, Content: pm.Content})
	}

	switch m.provider {
	case "anthropic":
		return m.anthropic(ctx, messages)
	case "ollama":
		return m.ollama(ctx, messages)
	default:
		return m.openAI(ctx, messages)
	}
}

func (m *ChatModel) openAI(ctx context.Context, messages []chatMessage) (string, error) {
	header := http.Header{}
	if m.apiKey != "" {
		header.Set("Authorization", "Bearer "+m.apiKey)
	}
	var out openAIResponse
	err := m.post(ctx, "/chat/completions", header, openAIRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", m.provider)
	}
	return out.Choices[0].Message.Content, nil
}

// anthropic carries system messages in the top-level system field; the
// messages list holds only the conversation turns.
func (m *ChatModel) anthropic(ctx context.Context, messages []chatMessage) (string, error) {
	var system []string
	turns := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}

	header := http.Header{}
	header.Set("x-api-key", m.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var out anthropicResponse
	err := m.post(ctx, "/messages", header, anthropicRequest{
		Model:       m.model,
		System:      strings.Join(system, "\n\n"),
		Messages:    turns,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}, &out)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (m *ChatModel) ollama(ctx context.Context, messages []chatMessage) (string, error) {
	var out ollamaResponse
	err := m.post(ctx, "/api/chat", nil, ollamaRequest{
		Model:    m.model,
		Messages: messages,
		Options: ollamaOptions{
			Temperature: m.temperature,
			NumPredict:  m.maxTokens,
		},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

func (m *ChatModel) post(ctx context.Context, path string, header http.Header, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", m.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", m.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", m.provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", m.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Provider:   m.provider,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data, resp.StatusCode),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", m.provider, err)
	}
	return nil
}

// errorMessage pulls the message out of {"error":{"message":...}} or
// {"error":"..."} bodies.
func errorMessage(data []byte, status int) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &env) == nil && len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return http.StatusText(status)
}
