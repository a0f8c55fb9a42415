package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nao1215/findsim/internal/model"
)

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// maxResponseSize bounds the API response body.
const maxResponseSize = 4 * 1024 * 1024

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat-completions API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets the API base URL, without the /chat/completions suffix.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the chat model.
func WithModel(m string) Option {
	return func(c *Client) {
		c.model = m
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithMaxTokens sets the answer token limit.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client authenticating with apiKey.
// Defaults target the DeepSeek API.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     "https://api.deepseek.com",
		apiKey:      apiKey,
		model:       "deepseek-chat",
		temperature: 0.3,
		maxTokens:   2000,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Complete sends messages and returns the content of the first choice.
// Failures are returned as *model.LLMError.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", &model.LLMError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &model.LLMError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &model.LLMError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &model.LLMError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, body)
	}

	if !gjson.ValidBytes(body) {
		return "", &model.LLMError{StatusCode: resp.StatusCode, Message: "response is not JSON"}
	}
	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return "", &model.LLMError{StatusCode: resp.StatusCode, Message: msg.String()}
	}

	content := parsed.Get("choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", &model.LLMError{StatusCode: resp.StatusCode, Message: "empty completion"}
	}

	c.logger.Debug("llm completion",
		"model", c.model,
		"duration", time.Since(start),
		"prompt_tokens", parsed.Get("usage.prompt_tokens").Int(),
		"completion_tokens", parsed.Get("usage.completion_tokens").Int(),
		"finish_reason", parsed.Get("choices.0.finish_reason").String(),
	)
	return content.String(), nil
}

// statusError maps a non-200 response to an LLMError.
func statusError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	e := &model.LLMError{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Auth = true
	case status == http.StatusTooManyRequests:
		e.RateLimited = true
	case status == http.StatusPaymentRequired:
		e.Message = fmt.Sprintf("insufficient balance: %s", msg)
	}
	return e
}
