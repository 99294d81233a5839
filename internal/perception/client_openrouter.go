package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"conclave/internal/logging"
)

// OpenRouterClient implements Invoker for the OpenRouter API.
// OpenRouter provides access to multiple LLM providers through a single API;
// the model identifier carries the provider prefix (e.g. "anthropic/claude-3.5-sonnet").
type OpenRouterClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
	siteURL     string // Optional: referer URL for OpenRouter rankings
	siteName    string // Optional: app name for OpenRouter rankings
}

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	SiteURL  string
	SiteName string
}

// DefaultOpenRouterConfig returns sensible defaults.
func DefaultOpenRouterConfig(apiKey string) OpenRouterConfig {
	return OpenRouterConfig{
		APIKey:   apiKey,
		BaseURL:  "https://openrouter.ai/api/v1",
		Timeout:  DefaultCallTimeout,
		SiteName: "conclave",
	}
}

// NewOpenRouterClient creates a new OpenRouter client with default config.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return NewOpenRouterClientWithConfig(DefaultOpenRouterConfig(apiKey))
}

// NewOpenRouterClientWithConfig creates a new OpenRouter client with custom config.
func NewOpenRouterClientWithConfig(config OpenRouterConfig) *OpenRouterClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &OpenRouterClient{
		apiKey:   config.APIKey,
		baseURL:  config.BaseURL,
		siteURL:  config.SiteURL,
		siteName: config.SiteName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// openRouterMessage mirrors the OpenAI-compatible message shape.
type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openRouterResponseFormat enforces structured output.
type openRouterResponseFormat struct {
	Type       string                `json:"type"` // "json_object" or "json_schema"
	JSONSchema *openRouterJSONSchema `json:"json_schema,omitempty"`
}

type openRouterJSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// openRouterRequest is the chat/completions request body.
type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	Temperature    float64                   `json:"temperature,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

// openRouterResponse is the chat/completions response body.
type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends the messages and returns the completion text.
func (c *OpenRouterClient) Complete(ctx context.Context, model string, msgs []Message) (string, error) {
	return c.call(ctx, model, msgs, nil)
}

// CompleteJSON sends the messages with a structured-output request.
func (c *OpenRouterClient) CompleteJSON(ctx context.Context, model string, msgs []Message, schema *JSONSchema) (string, error) {
	format := &openRouterResponseFormat{Type: "json_object"}
	if schema != nil && schema.Schema != nil {
		format = &openRouterResponseFormat{
			Type: "json_schema",
			JSONSchema: &openRouterJSONSchema{
				Name:   schema.Name,
				Strict: true,
				Schema: schema.Schema,
			},
		}
	}
	return c.call(ctx, model, msgs, format)
}

// call performs a single chat/completions request. One attempt only:
// retry policy belongs to callers, and the debate core documents
// single-attempt behavior.
func (c *OpenRouterClient) call(ctx context.Context, model string, msgs []Message, format *openRouterResponseFormat) (string, error) {
	// Auto-apply timeout if context has no deadline (centralized timeout handling)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[OpenRouter] call: model=%s messages=%d structured=%v", model, len(msgs), format != nil)

	if c.apiKey == "" {
		return "", &ConfigurationError{Reason: "OpenRouter API key not configured (set OPENROUTER_API_KEY)"}
	}

	// Rate limiting: at least 100ms between requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]openRouterMessage, len(msgs))
	for i, m := range msgs {
		messages[i] = openRouterMessage{Role: m.Role, Content: m.Content}
	}

	reqBody := openRouterRequest{
		Model:          model,
		Messages:       messages,
		MaxTokens:      4096,
		Temperature:    0.7,
		ResponseFormat: format,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	// OpenRouter-specific headers
	req.Header.Set("HTTP-Referer", c.siteURL)
	req.Header.Set("X-Title", c.siteName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIError("[OpenRouter] call: transport failure model=%s: %v", model, err)
		return "", &TransportError{Model: model, Err: err}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	resp.Body.Close()
	if err != nil {
		return "", &TransportError{Model: model, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		logging.APIError("[OpenRouter] call: status %d model=%s: %s", resp.StatusCode, model, string(body))
		return "", &TransportError{
			Model:      model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(body, &orResp); err != nil {
		return "", &TransportError{Model: model, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if orResp.Error != nil {
		return "", &TransportError{Model: model, Err: fmt.Errorf("API error: %s", orResp.Error.Message)}
	}

	if len(orResp.Choices) == 0 {
		logging.APIError("[OpenRouter] call: no completion returned model=%s", model)
		return "", &EmptyResponseError{Model: model}
	}

	response := strings.TrimSpace(orResp.Choices[0].Message.Content)
	if response == "" {
		return "", &EmptyResponseError{Model: model}
	}

	logging.API("[OpenRouter] call: completed model=%s in %v response_len=%d", model, time.Since(startTime), len(response))
	return response, nil
}
