// Package council implements the debate pipeline stages: the gatekeeper guard,
// the parallel stance collector, and the chairman synthesizer. Stages hold a
// perception.Invoker and are provider-agnostic; each council member is bound
// to a backend model purely through its model identifier.
package council

// Member is a static persona descriptor. Immutable after process start.
type Member struct {
	ID          string // unique key, referenced by script speaker ids
	Name        string
	Title       string
	Description string
	ModelID     string // backend model identifier, resolved by the gateway router
	Accent      string // display accent color (decorative only)
}

// Reserved speaker identifiers.
const (
	// LogicMemberID is the persona that must open every scripted debate.
	LogicMemberID = "logic"
	// DecreeSpeakerID marks the synthesized verdict turn in a script.
	DecreeSpeakerID = "decree"
	// SystemSpeakerID is the neutral identifier decree turns are remapped to
	// in the transcript.
	SystemSpeakerID = "system"
	// UserSpeakerID records the original query in the transcript.
	UserSpeakerID = "user"
)

// DefaultMembers returns the reference five-seat council. Each seat is bound
// to a different backend through the multi-provider routing endpoint.
func DefaultMembers() []Member {
	return []Member{
		{
			ID:          "logic",
			Name:        "The Architect",
			Title:       "Keeper of Logic",
			Description: "Analyzes facts, structures, and logical consistency. Cold, precise, and calculating.",
			ModelID:     "anthropic/claude-3.5-sonnet",
			Accent:      "#22d3ee",
		},
		{
			ID:          "creative",
			Name:        "The Visionary",
			Title:       "Weaver of Dreams",
			Description: "Explores abstract concepts, metaphors, and creative possibilities. Eccentric and bold.",
			ModelID:     "openai/gpt-4o-2024-08-06",
			Accent:      "#c084fc",
		},
		{
			ID:          "history",
			Name:        "The Chronicler",
			Title:       "Guardian of the Past",
			Description: "Contextualizes queries within history and precedent. Wise, cautious, and detailed.",
			ModelID:     "x-ai/grok-2-1212",
			Accent:      "#fbbf24",
		},
		{
			ID:          "ethics",
			Name:        "The Paladin",
			Title:       "Defender of Virtue",
			Description: "Ensures safety, morality, and human alignment. Protective and principled.",
			ModelID:     "mistralai/mistral-large-2411",
			Accent:      "#34d399",
		},
		{
			ID:          "skeptic",
			Name:        "The Inquisitor",
			Title:       "Seeker of Truth",
			Description: "Challenges assumptions and looks for flaws in arguments. Critical and sharp.",
			ModelID:     "deepseek/deepseek-r1",
			Accent:      "#f87171",
		},
	}
}

// ApplyModelOverrides returns a copy of members with per-member model ids
// replaced from the overrides map (member id -> model id).
func ApplyModelOverrides(members []Member, overrides map[string]string) []Member {
	if len(overrides) == 0 {
		return members
	}
	out := make([]Member, len(members))
	copy(out, members)
	for i := range out {
		if m, ok := overrides[out[i].ID]; ok && m != "" {
			out[i].ModelID = m
		}
	}
	return out
}

// KnownSpeaker reports whether id names a member of the given roster.
func KnownSpeaker(members []Member, id string) bool {
	for _, m := range members {
		if m.ID == id {
			return true
		}
	}
	return false
}
