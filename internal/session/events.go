package session

import "time"

// MessageType categorizes a transcript entry.
type MessageType string

const (
	MessageUserQuery MessageType = "user_query"
	MessageDebate    MessageType = "debate"
	MessageDecree    MessageType = "decree"
)

// TranscriptMessage is the persisted/playable history unit. The transcript
// is append-only for the duration of one debate session and cleared entirely
// when a new query starts.
type TranscriptMessage struct {
	SpeakerID string      // member id, "system" for decrees, "user" for the query
	Content   string
	Timestamp time.Time
	Type      MessageType
}

// State is the playback controller's phase.
type State int

const (
	StateIdle State = iota
	StateGathering
	StateScripting
	StatePresenting
	StateBanned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGathering:
		return "gathering"
	case StateScripting:
		return "scripting"
	case StatePresenting:
		return "presenting"
	case StateBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// EventKind identifies what a published Event carries.
type EventKind int

const (
	// EventStateChanged reports a phase transition; Event.State holds the
	// new phase.
	EventStateChanged EventKind = iota
	// EventTranscriptReset reports that a new session wiped the transcript.
	EventTranscriptReset
	// EventSpeakerChanged reports the active-speaker cursor and current
	// statement; both empty when the cursor is cleared.
	EventSpeakerChanged
	// EventMessageAppended carries a newly appended transcript message.
	EventMessageAppended
	// EventGuardRejected reports a gatekeeper rejection with the hostile
	// reason and the new strike count.
	EventGuardRejected
	// EventDebateFailed reports a synthesis failure with a generic
	// user-visible notice (never a strike).
	EventDebateFailed
	// EventFocusTranscript asks the rendering layer to scroll to the
	// transcript after a decree lands.
	EventFocusTranscript
	// EventBanLifted reports that the hidden reset zeroed the counter.
	EventBanLifted
)

// Event is published by the controller for the rendering layer.
type Event struct {
	Kind      EventKind
	SessionID string

	State     State              // EventStateChanged
	SpeakerID string             // EventSpeakerChanged
	Statement string             // EventSpeakerChanged
	Message   *TranscriptMessage // EventMessageAppended
	Reason    string             // EventGuardRejected / EventDebateFailed
	Strikes   int                // EventGuardRejected
}
