package council

import (
	"context"
	"encoding/json"
	"fmt"

	"conclave/internal/logging"
	"conclave/internal/perception"
)

// SynthesisError indicates chairman output that is unusable after fence
// stripping and parsing. It is not recovered locally; the orchestration
// halts the session and surfaces a generic failure.
type SynthesisError struct {
	Err error
	Raw string // raw chairman output, for logs
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("chairman script unusable: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer feeds the gathered stances to the chairman model and returns
// the ordered debate script.
type Synthesizer struct {
	inv   perception.Invoker
	model string
}

// NewSynthesizer creates a synthesizer bound to the chairman model.
func NewSynthesizer(inv perception.Invoker, model string) *Synthesizer {
	return &Synthesizer{inv: inv, model: model}
}

// Script asks the chairman for the full scripted meeting. The returned turn
// order is exactly the chairman's. The chairman is trusted to give every
// member a turn and open with the logic persona; only schema shape, known
// speakers, and decree presence are validated here.
func (s *Synthesizer) Script(ctx context.Context, query string, stances []Stance, members []Member) ([]ScriptTurn, error) {
	log := logging.Get(logging.CategoryCouncil)

	raw, err := s.inv.CompleteJSON(ctx, s.model, []perception.Message{
		perception.SystemMessage(chairmanSystemInstruction),
		perception.UserMessage(chairmanPrompt(query, stances)),
	}, nil)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	turns, err := ParseScript(raw, members)
	if err != nil {
		log.Error("script rejected: %v", err)
		return nil, err
	}

	log.Info("chairman scripted %d turns", len(turns))
	return turns, nil
}

// ParseScript normalizes and validates raw chairman output into script turns.
// Some backends wrap JSON in fenced code-block markers; those are stripped
// before parsing. Accepts a bare array, or an object holding the array under
// one of the conventional keys.
func ParseScript(raw string, members []Member) ([]ScriptTurn, error) {
	payload := perception.StripJSONFences(raw)

	var turns []ScriptTurn
	if err := json.Unmarshal([]byte(payload), &turns); err != nil {
		var wrapped map[string]json.RawMessage
		if err2 := json.Unmarshal([]byte(payload), &wrapped); err2 != nil {
			return nil, &SynthesisError{Err: fmt.Errorf("payload is neither array nor object: %w", err), Raw: raw}
		}
		turns = nil
		for _, key := range []string{"items", "script", "turns"} {
			if inner, ok := wrapped[key]; ok {
				if err := json.Unmarshal(inner, &turns); err != nil {
					return nil, &SynthesisError{Err: fmt.Errorf("key %q does not hold a turn array: %w", key, err), Raw: raw}
				}
				break
			}
		}
		if turns == nil {
			return nil, &SynthesisError{Err: fmt.Errorf("object payload holds no turn array"), Raw: raw}
		}
	}

	if len(turns) == 0 {
		return nil, &SynthesisError{Err: fmt.Errorf("empty script"), Raw: raw}
	}

	hasDecree := false
	for i, t := range turns {
		if t.Content == "" {
			return nil, &SynthesisError{Err: fmt.Errorf("turn %d has no content", i), Raw: raw}
		}
		switch t.Type {
		case TurnDebate:
			if !KnownSpeaker(members, t.SpeakerID) {
				return nil, &SynthesisError{Err: fmt.Errorf("turn %d names unknown speaker %q", i, t.SpeakerID), Raw: raw}
			}
		case TurnDecree:
			hasDecree = true
		default:
			return nil, &SynthesisError{Err: fmt.Errorf("turn %d has invalid type %q", i, t.Type), Raw: raw}
		}
	}
	if !hasDecree {
		return nil, &SynthesisError{Err: fmt.Errorf("script has no decree turn"), Raw: raw}
	}
	return turns, nil
}
