package provider

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

	"go.uber.org/zap"
)

// chatTemperature is fixed: the pipeline wants predictable rewriting,
// not creative drift.
const chatTemperature = 0.3

// DefaultChatTimeout bounds one completions round trip.
const DefaultChatTimeout = 30 * time.Second

// Per-operation system prompts.
const (
	generateSystemPrompt  = "You are a careful writing assistant. Produce the requested text directly, without preamble or commentary."
	reviseSystemPrompt    = "Rewrite the provided text for clarity and flow without changing its meaning. Return only the revised text."
	summarizeSystemPrompt = "Summarize the provided text faithfully and concisely. Return only the summary."
)

// ChatConfig holds connection settings for the chat-completions
// endpoint.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultChatConfig returns sensible defaults.
func DefaultChatConfig(apiKey string) ChatConfig {
	return ChatConfig{
		BaseURL: "https://api.openai.com/v1",
		APIKey:  apiKey,
		Model:   "gpt-4o-mini",
		Timeout: DefaultChatTimeout,
	}
}

// Chat is the reference Provider implementation over an HTTPS
// chat-completions endpoint.
type Chat struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewChat builds a chat provider.
func NewChat(cfg ChatConfig, logger *zap.Logger) *Chat {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("provider"),
	}
}

// Name implements Provider.
func (c *Chat) Name() string { return "chat_completions" }

// Generate implements Provider.
func (c *Chat) Generate(ctx context.Context, prompt string, _ map[string]any) (string, Info, error) {
	return c.complete(ctx, OpGenerate, generateSystemPrompt, prompt)
}

// Revise implements Provider.
func (c *Chat) Revise(ctx context.Context, text string, _ map[string]any) (string, Info, error) {
	return c.complete(ctx, OpRevise, reviseSystemPrompt, text)
}

// Summarize implements Provider.
func (c *Chat) Summarize(ctx context.Context, text string, _ map[string]any) (string, Info, error) {
	return c.complete(ctx, OpSummarize, summarizeSystemPrompt, text)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Chat) complete(ctx context.Context, op, systemPrompt, userPrompt string) (string, Info, error) {
	info := Info{Provider: c.Name(), Model: c.model, Operation: op}
	if c.apiKey == "" {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: errors.New("api key not configured")}
	}

	// Apply the configured timeout when the caller set no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", info, &Error{
			Provider:   c.Name(),
			Operation:  op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("endpoint returned %s", strings.TrimSpace(string(raw))),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", info, &Error{Provider: c.Name(), Operation: op, Err: errors.New("response contained no choices")}
	}

	c.logger.Debug("completion finished",
		zap.String("operation", op),
		zap.Duration("duration", time.Since(start)))
	return parsed.Choices[0].Message.Content, info, nil
}
