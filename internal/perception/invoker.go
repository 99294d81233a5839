// Package perception is the model gateway: a uniform contract for invoking a
// named remote text- or JSON-generating model. The orchestration stages never
// talk to a provider directly; they hand a model identifier and an ordered
// message sequence to an Invoker and get text back. Provider selection is the
// Router's job, keyed entirely by the model identifier.
package perception

import (
	"context"
	"time"
)

// Message is one role-tagged entry in a model conversation.
type Message struct {
	Role    string `json:"role"` // "system" or "user"
	Content string `json:"content"`
}

// JSONSchema describes the structured-output contract for CompleteJSON.
// Schema may be nil, in which case providers are asked for a generic JSON
// object rather than a named schema.
type JSONSchema struct {
	Name   string
	Schema map[string]interface{}
}

// Invoker defines the gateway contract for LLM providers.
// Implementations must be safe for concurrent use and must not retry;
// retry policy belongs to callers.
type Invoker interface {
	// Complete sends the messages to the named model and returns its text.
	Complete(ctx context.Context, model string, msgs []Message) (string, error)

	// CompleteJSON sends the messages with a structured-output request and
	// returns the raw JSON text. Callers parse and validate the payload.
	CompleteJSON(ctx context.Context, model string, msgs []Message, schema *JSONSchema) (string, error)
}

// SystemMessage is a convenience constructor for a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage is a convenience constructor for a user-role message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// DefaultCallTimeout is applied by clients when the caller's context carries
// no deadline. Tunable via config.
const DefaultCallTimeout = 90 * time.Second
