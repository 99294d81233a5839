package perception

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"conclave/internal/logging"
)

// GeminiClient implements Invoker for the first-party Google Gemini API via
// the official genai SDK. Used for bare "gemini-*" model identifiers that do
// not route through OpenRouter.
type GeminiClient struct {
	apiKey string

	mu     sync.Mutex
	client *genai.Client // lazily created on first call
}

// NewGeminiClient creates a new Gemini client. The underlying SDK client is
// created lazily so that a missing credential surfaces on the first call
// rather than at startup.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey}
}

func (c *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, &ConfigurationError{Reason: "Gemini API key not configured (set GEMINI_API_KEY)"}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: c.apiKey,
	})
	if err != nil {
		return nil, &TransportError{Model: "gemini", Err: fmt.Errorf("failed to create GenAI client: %w", err)}
	}
	c.client = client
	return client, nil
}

// Complete sends the messages and returns the completion text.
func (c *GeminiClient) Complete(ctx context.Context, model string, msgs []Message) (string, error) {
	return c.call(ctx, model, msgs, nil)
}

// CompleteJSON sends the messages requesting an application/json response.
func (c *GeminiClient) CompleteJSON(ctx context.Context, model string, msgs []Message, schema *JSONSchema) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	return c.call(ctx, model, msgs, config)
}

func (c *GeminiClient) call(ctx context.Context, model string, msgs []Message, config *genai.GenerateContentConfig) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] call: model=%s messages=%d", model, len(msgs))

	client, err := c.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	if config == nil {
		config = &genai.GenerateContentConfig{}
	}

	// Gemini takes the system instruction out-of-band; user/system roles are
	// not interleaved the way OpenAI-compatible APIs expect.
	var contents []*genai.Content
	for _, m := range msgs {
		if m.Role == "system" {
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
	}
	if len(contents) == 0 {
		return "", &EmptyResponseError{Model: model}
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		logging.APIError("[Gemini] call: generate failed model=%s: %v", model, err)
		return "", &TransportError{Model: model, Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		logging.APIError("[Gemini] call: empty response model=%s", model)
		return "", &EmptyResponseError{Model: model}
	}

	logging.API("[Gemini] call: completed model=%s in %v response_len=%d", model, time.Since(startTime), len(text))
	return text, nil
}
