package perception

import "fmt"

// TransportError indicates a network failure or a non-success HTTP status
// while calling a model provider.
type TransportError struct {
	Model      string
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model %s: request failed with status %d: %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model %s: request failed: %v", e.Model, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EmptyResponseError indicates a success status with no usable content.
type EmptyResponseError struct {
	Model string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("model %s: provider returned no usable content", e.Model)
}

// SchemaViolationError indicates structured output that does not parse
// against the expected shape.
type SchemaViolationError struct {
	Model string
	Err   error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("model %s: structured output violates schema: %v", e.Model, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

// ConfigurationError indicates a missing credential or an unroutable model
// identifier. Surfaces on the first attempted call, not at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gateway misconfigured: %s", e.Reason)
}
