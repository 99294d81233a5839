package council

// Stance is one persona's independent short reaction to the query, gathered
// before scripting. Never mutated after creation.
type Stance struct {
	MemberID   string `json:"id"`
	MemberName string `json:"name"`
	Content    string `json:"content"`
}

// TurnType classifies a script turn.
type TurnType string

const (
	TurnDebate TurnType = "debate"
	TurnDecree TurnType = "decree"
)

// ScriptTurn is one entry of the synthesized debate script. Ordering is
// significant and preserved exactly as the chairman returned it.
type ScriptTurn struct {
	SpeakerID string   `json:"speakerId"`
	Content   string   `json:"content"`
	Type      TurnType `json:"type"`
}

// GuardVerdict is the gatekeeper's allow/deny decision. Reason is empty when
// the query is allowed.
type GuardVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
