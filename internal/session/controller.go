// Package session owns the debate orchestration state machine: one live
// session at a time walking Idle -> Gathering -> Scripting -> Presenting ->
// Idle, with an orthogonal Banned sub-state entered after three guard
// rejections. The controller owns the transcript and the active-speaker
// cursor; the rendering layer observes both through the event stream and
// snapshot accessors.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conclave/internal/council"
	"conclave/internal/logging"
)

// BanThreshold is the strike count at which the chamber seals itself.
const BanThreshold = 3

// debateFailedNotice is the generic user-visible failure for synthesis
// errors. Deliberately vague: script failures are never blamed on the user
// and never count as strikes.
const debateFailedNotice = "The Council is silent. Please check your connection or API key."

// Submission rejections. All of them are no-ops: state, transcript, and
// counters are untouched.
var (
	ErrEmptyQuery    = errors.New("query is empty")
	ErrSessionActive = errors.New("a council session is already in progress")
	ErrBanned        = errors.New("the chamber is sealed")
)

// GuardRejectionError reports that the gatekeeper refused the query.
// The strike has already been recorded when this is returned.
type GuardRejectionError struct {
	Reason  string
	Strikes int
}

func (e *GuardRejectionError) Error() string {
	return fmt.Sprintf("query rejected (strike %d/%d): %s", e.Strikes, BanThreshold, e.Reason)
}

// GuardStage screens a query; never fails (fail-closed inside).
type GuardStage interface {
	Evaluate(ctx context.Context, query string) council.GuardVerdict
}

// StanceStage gathers every member's independent position (join-all).
type StanceStage interface {
	Gather(ctx context.Context, query string, members []council.Member) []council.Stance
}

// ScriptStage turns stances into the ordered debate script.
type ScriptStage interface {
	Script(ctx context.Context, query string, stances []council.Stance, members []council.Member) ([]council.ScriptTurn, error)
}

// StrikeStore persists the guard rejection counter across restarts.
type StrikeStore interface {
	Strikes() (int, error)
	AddStrike() (int, error)
	ResetStrikes() error
}

// Config wires the controller's collaborators.
type Config struct {
	Members     []council.Member
	Guard       GuardStage
	Stances     StanceStage
	Synthesizer ScriptStage
	Strikes     StrikeStore

	// Clock paces playback; defaults to the wall clock.
	Clock Clock
	// Now stamps transcript messages; defaults to time.Now.
	Now func() time.Time
	// EventBuffer sizes the event channel; defaults to 256.
	EventBuffer int
}

// Controller is the playback controller. All exported methods are safe for
// concurrent use; at most one debate session runs at a time.
type Controller struct {
	members     []council.Member
	guard       GuardStage
	stances     StanceStage
	synthesizer ScriptStage
	strikes     StrikeStore
	clock       Clock
	now         func() time.Time

	mu            sync.Mutex
	state         State
	banned        bool
	transcript    []TranscriptMessage
	activeSpeaker string // "" when no one is actively speaking
	statement     string
	sessionID     string

	events chan Event
}

// New creates a controller. The Banned sub-state is restored from the strike
// store so a reload cannot un-seal the chamber.
func New(cfg Config) (*Controller, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("at least one council member is required")
	}
	if cfg.Guard == nil || cfg.Stances == nil || cfg.Synthesizer == nil || cfg.Strikes == nil {
		return nil, fmt.Errorf("guard, stances, synthesizer, and strikes are all required")
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	c := &Controller{
		members:     cfg.Members,
		guard:       cfg.Guard,
		stances:     cfg.Stances,
		synthesizer: cfg.Synthesizer,
		strikes:     cfg.Strikes,
		clock:       cfg.Clock,
		now:         cfg.Now,
		events:      make(chan Event, cfg.EventBuffer),
	}

	if n, err := cfg.Strikes.Strikes(); err == nil && n >= BanThreshold {
		c.banned = true
	}
	return c, nil
}

// Events returns the stream the rendering layer subscribes to. Events are
// dropped rather than blocking the session when the subscriber lags; the
// snapshot accessors remain authoritative.
func (c *Controller) Events() <-chan Event { return c.events }

// Members returns the immutable roster.
func (c *Controller) Members() []council.Member { return c.members }

// State returns the current phase, folding in the Banned sub-state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.banned {
		return StateBanned
	}
	return c.state
}

// Banned reports whether the chamber is sealed.
func (c *Controller) Banned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banned
}

// ActiveSpeaker returns the cursor and current statement; the speaker id is
// empty when no one is actively speaking.
func (c *Controller) ActiveSpeaker() (speakerID, statement string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSpeaker, c.statement
}

// Transcript returns a snapshot copy of the current session's transcript.
func (c *Controller) Transcript() []TranscriptMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptMessage, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Strikes returns the persisted guard rejection count.
func (c *Controller) Strikes() int {
	n, err := c.strikes.Strikes()
	if err != nil {
		logging.SessionError("failed to read strike counter: %v", err)
		return 0
	}
	return n
}

// ResetStrikes is the hidden absolution affordance: it zeroes the counter
// and un-seals the chamber.
func (c *Controller) ResetStrikes() error {
	if err := c.strikes.ResetStrikes(); err != nil {
		return err
	}
	c.mu.Lock()
	c.banned = false
	c.mu.Unlock()
	c.emit(Event{Kind: EventBanLifted})
	c.emit(Event{Kind: EventStateChanged, State: StateIdle})
	logging.Session("strikes absolved, chamber unsealed")
	return nil
}

// Submit runs one full debate session synchronously: guard, stance
// gathering, synthesis, timed playback. It is rejected outright - with
// state, transcript, and counters untouched - when the query is blank, a
// session is already live, or the chamber is sealed. Callers wanting a
// responsive UI run it on its own goroutine and watch Events.
func (c *Controller) Submit(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}

	c.mu.Lock()
	if c.banned {
		c.mu.Unlock()
		return ErrBanned
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateGathering
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.mu.Unlock()

	logging.Session("session %s: query submitted", sessionID)
	c.emit(Event{Kind: EventStateChanged, State: StateGathering, SessionID: sessionID})

	// Guard check runs before the previous transcript is touched, so a
	// rejection leaves the prior session's decree on screen.
	verdict := c.guard.Evaluate(ctx, query)
	if !verdict.Allowed {
		return c.rejectQuery(sessionID, verdict.Reason)
	}

	// Allowed: the old session is discarded wholesale and the query is
	// recorded before deliberation starts.
	userMsg := TranscriptMessage{
		SpeakerID: council.UserSpeakerID,
		Content:   query,
		Timestamp: c.now(),
		Type:      MessageUserQuery,
	}
	c.mu.Lock()
	c.transcript = []TranscriptMessage{userMsg}
	c.activeSpeaker = ""
	c.statement = ""
	c.mu.Unlock()
	c.emit(Event{Kind: EventTranscriptReset, SessionID: sessionID})
	c.emit(Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &userMsg})

	stances := c.stances.Gather(ctx, query, c.members)

	c.setState(StateScripting, sessionID)
	turns, err := c.synthesizer.Script(ctx, query, stances, c.members)
	if err != nil {
		// Script failure halts the session and returns to Idle - not
		// Banned. Only guard rejections count as strikes.
		logging.SessionError("session %s: synthesis failed: %v", sessionID, err)
		c.setState(StateIdle, sessionID)
		c.emit(Event{Kind: EventDebateFailed, SessionID: sessionID, Reason: debateFailedNotice})
		return err
	}

	if err := c.present(ctx, sessionID, turns); err != nil {
		return err
	}

	logging.Session("session %s: completed with %d turns", sessionID, len(turns))
	return nil
}

// rejectQuery records a strike and, past the threshold, seals the chamber.
func (c *Controller) rejectQuery(sessionID, reason string) error {
	n, err := c.strikes.AddStrike()
	if err != nil {
		logging.SessionError("session %s: failed to persist strike: %v", sessionID, err)
	}

	c.mu.Lock()
	c.state = StateIdle
	if n >= BanThreshold {
		c.banned = true
	}
	banned := c.banned
	c.mu.Unlock()

	logging.Session("session %s: rejected by gatekeeper (strike %d/%d)", sessionID, n, BanThreshold)
	c.emit(Event{Kind: EventGuardRejected, SessionID: sessionID, Reason: reason, Strikes: n})
	if banned {
		c.emit(Event{Kind: EventStateChanged, State: StateBanned, SessionID: sessionID})
	} else {
		c.emit(Event{Kind: EventStateChanged, State: StateIdle, SessionID: sessionID})
	}
	return &GuardRejectionError{Reason: reason, Strikes: n}
}

// present replays the script: one active speaker at a time, paced by
// content-length-derived delay, each turn folded into the transcript after
// its delay elapses.
func (c *Controller) present(ctx context.Context, sessionID string, turns []council.ScriptTurn) error {
	c.setState(StatePresenting, sessionID)

	for _, turn := range turns {
		isDecree := turn.Type == council.TurnDecree || turn.SpeakerID == council.DecreeSpeakerID

		c.mu.Lock()
		if isDecree {
			// A decree is a pronouncement: no one is actively speaking.
			c.activeSpeaker = ""
			c.statement = ""
		} else {
			c.activeSpeaker = turn.SpeakerID
			c.statement = turn.Content
		}
		speaker, statement := c.activeSpeaker, c.statement
		c.mu.Unlock()
		c.emit(Event{Kind: EventSpeakerChanged, SessionID: sessionID, SpeakerID: speaker, Statement: statement})

		if err := c.clock.Sleep(ctx, playbackDelay(turn.Content)); err != nil {
			c.clearCursor(sessionID)
			c.setState(StateIdle, sessionID)
			return err
		}

		msg := TranscriptMessage{
			SpeakerID: turn.SpeakerID,
			Content:   turn.Content,
			Timestamp: c.now(),
			Type:      MessageDebate,
		}
		if isDecree {
			msg.SpeakerID = council.SystemSpeakerID
			msg.Type = MessageDecree
		}

		c.mu.Lock()
		c.transcript = append(c.transcript, msg)
		c.mu.Unlock()
		c.emit(Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &msg})
		if isDecree {
			c.emit(Event{Kind: EventFocusTranscript, SessionID: sessionID})
		}
	}

	c.clearCursor(sessionID)
	c.setState(StateIdle, sessionID)
	return nil
}

func (c *Controller) clearCursor(sessionID string) {
	c.mu.Lock()
	c.activeSpeaker = ""
	c.statement = ""
	c.mu.Unlock()
	c.emit(Event{Kind: EventSpeakerChanged, SessionID: sessionID})
}

func (c *Controller) setState(s State, sessionID string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventStateChanged, State: s, SessionID: sessionID})
}

// emit publishes without ever blocking the session goroutine.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logging.Get(logging.CategoryUI).Warn("event dropped: kind=%d", ev.Kind)
	}
}
