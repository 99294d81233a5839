package council

import (
	"context"
	"encoding/json"

	"conclave/internal/logging"
	"conclave/internal/perception"
)

// guardFallbackReason is surfaced when the gatekeeper model itself fails.
const guardFallbackReason = "The Gatekeeper is currently dormant, but the door remains shut."

// Guard screens a query for council-worthiness before any deliberation.
//
// Failure policy is fail-closed: if the gateway call fails or returns an
// unparsable verdict, the query is rejected with a fixed reason. Evaluate
// never returns an error. Over-rejection is preferred over letting a
// malformed verdict through.
type Guard struct {
	inv   perception.Invoker
	model string
}

// NewGuard creates a guard bound to a fast moderation model.
func NewGuard(inv perception.Invoker, model string) *Guard {
	return &Guard{inv: inv, model: model}
}

var guardVerdictSchema = &perception.JSONSchema{
	Name: "guard_verdict",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"allowed": map[string]interface{}{"type": "boolean"},
			"reason":  map[string]interface{}{"type": "string"},
		},
		"required":             []string{"allowed", "reason"},
		"additionalProperties": false,
	},
}

// Evaluate submits the raw query to the gatekeeper model and returns its
// verdict. No length cap is enforced here.
func (g *Guard) Evaluate(ctx context.Context, query string) GuardVerdict {
	log := logging.Get(logging.CategoryGuard)

	raw, err := g.inv.CompleteJSON(ctx, g.model, []perception.Message{
		perception.SystemMessage(guardSystemInstruction),
		perception.UserMessage(query),
	}, guardVerdictSchema)
	if err != nil {
		log.Error("gatekeeper call failed, rejecting: %v", err)
		return GuardVerdict{Allowed: false, Reason: guardFallbackReason}
	}

	var verdict GuardVerdict
	if err := json.Unmarshal([]byte(perception.StripJSONFences(raw)), &verdict); err != nil {
		log.Error("gatekeeper verdict unparsable, rejecting: %v", err)
		return GuardVerdict{Allowed: false, Reason: guardFallbackReason}
	}

	if verdict.Allowed {
		verdict.Reason = ""
		log.Info("query allowed")
	} else {
		log.Info("query rejected: %s", verdict.Reason)
	}
	return verdict
}
