package perception

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Router dispatches a model identifier to a provider family:
//
//   - identifiers containing "/" (e.g. "anthropic/claude-3.5-sonnet") go to
//     the OpenRouter multi-provider endpoint;
//   - bare "gemini-*" identifiers go to the first-party Gemini client.
//
// The orchestration stages hold a single Router and never branch on provider.
type Router struct {
	openRouter Invoker
	gemini     Invoker
}

// NewRouter builds a router over explicit provider clients. Either client may
// be nil; calls routed to a nil client fail with a ConfigurationError.
func NewRouter(openRouter, gemini Invoker) *Router {
	return &Router{openRouter: openRouter, gemini: gemini}
}

// NewRouterFromEnv builds a router from environment credentials.
// OPENROUTER_API_KEY feeds the routing endpoint, GEMINI_API_KEY the
// first-party client; API_KEY is accepted as a shared fallback for simpler
// configurations. Missing keys are not an error here - they surface as
// ConfigurationError on the first call that needs them.
func NewRouterFromEnv() *Router {
	shared := os.Getenv("API_KEY")

	orKey := os.Getenv("OPENROUTER_API_KEY")
	if orKey == "" {
		orKey = shared
	}
	gemKey := os.Getenv("GEMINI_API_KEY")
	if gemKey == "" {
		gemKey = shared
	}

	return &Router{
		openRouter: NewOpenRouterClient(orKey),
		gemini:     NewGeminiClient(gemKey),
	}
}

// clientFor resolves the provider family for a model identifier.
func (r *Router) clientFor(model string) (Invoker, error) {
	switch {
	case strings.Contains(model, "/"):
		if r.openRouter == nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("model %q requires the OpenRouter endpoint, which is not configured", model)}
		}
		return r.openRouter, nil
	case strings.HasPrefix(model, "gemini"):
		if r.gemini == nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("model %q requires the Gemini client, which is not configured", model)}
		}
		return r.gemini, nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("model %q does not map to a known provider family", model)}
	}
}

// Complete routes the call to the provider family for the model.
func (r *Router) Complete(ctx context.Context, model string, msgs []Message) (string, error) {
	client, err := r.clientFor(model)
	if err != nil {
		return "", err
	}
	return client.Complete(ctx, model, msgs)
}

// CompleteJSON routes the structured-output call to the provider family for the model.
func (r *Router) CompleteJSON(ctx context.Context, model string, msgs []Message, schema *JSONSchema) (string, error) {
	client, err := r.clientFor(model)
	if err != nil {
		return "", err
	}
	return client.CompleteJSON(ctx, model, msgs, schema)
}
