package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"conclave/internal/council"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// --- fakes ---

type fakeGuard struct {
	mu      sync.Mutex
	verdict council.GuardVerdict
	calls   int
}

func (g *fakeGuard) Evaluate(ctx context.Context, query string) council.GuardVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.verdict
}

func (g *fakeGuard) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeStances struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeStances) Gather(ctx context.Context, query string, members []council.Member) []council.Stance {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	out := make([]council.Stance, len(members))
	for i, m := range members {
		out[i] = council.Stance{MemberID: m.ID, MemberName: m.Name, Content: "stance from " + m.Name}
	}
	return out
}

func (s *fakeStances) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSynthesizer struct {
	mu         sync.Mutex
	turns      []council.ScriptTurn
	err        error
	calls      int
	gotStances []council.Stance
}

func (f *fakeSynthesizer) Script(ctx context.Context, query string, stances []council.Stance, members []council.Member) ([]council.ScriptTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotStances = stances
	return f.turns, f.err
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStrikes is an in-memory StrikeStore.
type memStrikes struct {
	mu sync.Mutex
	n  int
}

func (m *memStrikes) Strikes() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n, nil
}

func (m *memStrikes) AddStrike() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.n, nil
}

func (m *memStrikes) ResetStrikes() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n = 0
	return nil
}

// fakeClock records requested sleep durations and returns immediately.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// blockingClock parks every Sleep until released, and signals when the
// first sleeper arrives.
type blockingClock struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingClock() *blockingClock {
	return &blockingClock{entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *blockingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.once.Do(func() { close(c.entered) })
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testMembers() []council.Member {
	return []council.Member{
		{ID: "logic", Name: "Logic", ModelID: "model/a"},
		{ID: "skeptic", Name: "Skeptic", ModelID: "model/b"},
		{ID: "mystic", Name: "Mystic", ModelID: "model/c"},
		{ID: "pragmatist", Name: "Pragmatist", ModelID: "model/d"},
		{ID: "historian", Name: "Historian", ModelID: "model/e"},
	}
}

type fixture struct {
	ctrl    *Controller
	guard   *fakeGuard
	stances *fakeStances
	synth   *fakeSynthesizer
	strikes *memStrikes
	clock   *fakeClock
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		guard:   &fakeGuard{verdict: council.GuardVerdict{Allowed: true}},
		stances: &fakeStances{},
		synth:   &fakeSynthesizer{},
		strikes: &memStrikes{},
		clock:   &fakeClock{},
	}
	cfg := Config{
		Members:     testMembers(),
		Guard:       f.guard,
		Stances:     f.stances,
		Synthesizer: f.synth,
		Strikes:     f.strikes,
		Clock:       f.clock,
		Now:         func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := New(cfg)
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func drainEvents(c *Controller) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// --- tests ---

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Members: testMembers()})
	require.Error(t, err)
}

func TestEmptyQueryRejected(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.ctrl.Submit(context.Background(), "   "), ErrEmptyQuery)
	assert.Equal(t, 0, f.guard.callCount())
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestGuardRejectionAddsOneStrike(t *testing.T) {
	f := newFixture(t, nil)
	f.guard.verdict = council.GuardVerdict{Allowed: false, Reason: "Your query bores the Council."}

	err := f.ctrl.Submit(context.Background(), "What is 2+2?")
	var rej *GuardRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 1, rej.Strikes)
	assert.Equal(t, "Your query bores the Council.", rej.Reason)

	// Deliberation never starts and the transcript is untouched.
	assert.Equal(t, 0, f.stances.callCount())
	assert.Equal(t, 0, f.synth.callCount())
	assert.Empty(t, f.ctrl.Transcript())
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Equal(t, 1, f.ctrl.Strikes())
}

func TestThirdStrikeSealsChamber(t *testing.T) {
	f := newFixture(t, nil)
	f.guard.verdict = council.GuardVerdict{Allowed: false, Reason: "Denied."}

	for i := 0; i < 3; i++ {
		err := f.ctrl.Submit(context.Background(), "anything")
		var rej *GuardRejectionError
		require.ErrorAs(t, err, &rej)
	}
	assert.Equal(t, StateBanned, f.ctrl.State())
	assert.True(t, f.ctrl.Banned())

	// Once sealed, submissions bounce before reaching the gatekeeper.
	calls := f.guard.callCount()
	require.ErrorIs(t, f.ctrl.Submit(context.Background(), "please"), ErrBanned)
	assert.Equal(t, calls, f.guard.callCount())
	assert.Equal(t, 3, f.ctrl.Strikes())
}

func TestBanRestoredFromStore(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Strikes = &memStrikes{n: 3}
	})
	assert.Equal(t, StateBanned, f.ctrl.State())
	require.ErrorIs(t, f.ctrl.Submit(context.Background(), "hello"), ErrBanned)
}

func TestResetStrikesLiftsBan(t *testing.T) {
	f := newFixture(t, nil)
	f.guard.verdict = council.GuardVerdict{Allowed: false, Reason: "Denied."}
	for i := 0; i < 3; i++ {
		_ = f.ctrl.Submit(context.Background(), "x")
	}
	require.True(t, f.ctrl.Banned())

	require.NoError(t, f.ctrl.ResetStrikes())
	assert.False(t, f.ctrl.Banned())
	assert.Equal(t, 0, f.ctrl.Strikes())

	f.guard.verdict = council.GuardVerdict{Allowed: true}
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: council.DecreeSpeakerID, Content: "So it is decreed.", Type: council.TurnDecree},
	}
	require.NoError(t, f.ctrl.Submit(context.Background(), "Should machines vote?"))
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestFullSessionPlayback(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: "logic", Content: "Compatibilism is the only coherent position.", Type: council.TurnDebate},
		{SpeakerID: "skeptic", Content: "Define 'free' before you define 'will'.", Type: council.TurnDebate},
		{SpeakerID: "mystic", Content: strings.Repeat("The threads of fate are woven loosely. ", 10), Type: council.TurnDebate},
		{SpeakerID: "pragmatist", Content: "It changes nothing about tomorrow morning.", Type: council.TurnDebate},
		{SpeakerID: "historian", Content: "The Stoics held both, and flourished.", Type: council.TurnDebate},
		{SpeakerID: council.DecreeSpeakerID, Content: "They are compatible in practice, if not in principle.", Type: council.TurnDecree},
	}

	query := "Is free will compatible with determinism?"
	require.NoError(t, f.ctrl.Submit(context.Background(), query))

	// One transcript message per turn, plus the user query at the head.
	transcript := f.ctrl.Transcript()
	require.Len(t, transcript, 7)
	assert.Equal(t, council.UserSpeakerID, transcript[0].SpeakerID)
	assert.Equal(t, MessageUserQuery, transcript[0].Type)
	assert.Equal(t, query, transcript[0].Content)
	for i := 1; i <= 5; i++ {
		assert.Equal(t, MessageDebate, transcript[i].Type)
		assert.Equal(t, f.synth.turns[i-1].SpeakerID, transcript[i].SpeakerID)
	}

	// The decree is attributed to the system, never a member.
	assert.Equal(t, council.SystemSpeakerID, transcript[6].SpeakerID)
	assert.Equal(t, MessageDecree, transcript[6].Type)
	assert.Equal(t, f.synth.turns[5].Content, transcript[6].Content)

	// Playback paced exactly one clamped delay per turn.
	sleeps := f.clock.recorded()
	require.Len(t, sleeps, 6)
	for i, turn := range f.synth.turns {
		assert.Equal(t, playbackDelay(turn.Content), sleeps[i])
	}

	// Session over: cursor cleared, back to Idle, no strikes.
	speaker, statement := f.ctrl.ActiveSpeaker()
	assert.Empty(t, speaker)
	assert.Empty(t, statement)
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Equal(t, 0, f.ctrl.Strikes())

	// Stances reached the synthesizer in roster order.
	require.Len(t, f.synth.gotStances, 5)
	assert.Equal(t, "logic", f.synth.gotStances[0].MemberID)
	assert.Equal(t, "historian", f.synth.gotStances[4].MemberID)
}

func TestDecreeClearsCursorDuringDisplay(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: "logic", Content: "A point.", Type: council.TurnDebate},
		{SpeakerID: council.DecreeSpeakerID, Content: "Decreed.", Type: council.TurnDecree},
	}

	require.NoError(t, f.ctrl.Submit(context.Background(), "query"))

	var speakerEvents []Event
	for _, ev := range drainEvents(f.ctrl) {
		if ev.Kind == EventSpeakerChanged {
			speakerEvents = append(speakerEvents, ev)
		}
	}
	// Turn one lights up logic, the decree turn darkens the chamber, and the
	// final clear is unconditional.
	require.GreaterOrEqual(t, len(speakerEvents), 3)
	assert.Equal(t, "logic", speakerEvents[0].SpeakerID)
	assert.Equal(t, "A point.", speakerEvents[0].Statement)
	assert.Empty(t, speakerEvents[1].SpeakerID)
	assert.Empty(t, speakerEvents[len(speakerEvents)-1].SpeakerID)
}

func TestDecreeEmitsFocusEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: council.DecreeSpeakerID, Content: "Decreed.", Type: council.TurnDecree},
	}

	require.NoError(t, f.ctrl.Submit(context.Background(), "query"))

	var focused bool
	for _, ev := range drainEvents(f.ctrl) {
		if ev.Kind == EventFocusTranscript {
			focused = true
		}
	}
	assert.True(t, focused)
}

func TestSynthesisFailureIsNotAStrike(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.err = errors.New("model returned garbage")

	err := f.ctrl.Submit(context.Background(), "query")
	require.Error(t, err)
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Equal(t, 0, f.ctrl.Strikes())

	var failed *Event
	for _, ev := range drainEvents(f.ctrl) {
		if ev.Kind == EventDebateFailed {
			e := ev
			failed = &e
		}
	}
	require.NotNil(t, failed)
	// The user-facing notice stays generic regardless of the real cause.
	assert.NotContains(t, failed.Reason, "garbage")
	assert.Contains(t, failed.Reason, "Council is silent")
}

func TestSubmitWhilePresentingRejected(t *testing.T) {
	clock := newBlockingClock()
	f := newFixture(t, func(cfg *Config) { cfg.Clock = clock })
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: "logic", Content: "Long deliberation.", Type: council.TurnDebate},
		{SpeakerID: council.DecreeSpeakerID, Content: "Done.", Type: council.TurnDecree},
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Submit(context.Background(), "first") }()

	<-clock.entered
	require.Equal(t, StatePresenting, f.ctrl.State())

	// A second submission is a no-op: no state change, no strike, and the
	// gatekeeper is never consulted for it.
	calls := f.guard.callCount()
	require.ErrorIs(t, f.ctrl.Submit(context.Background(), "second"), ErrSessionActive)
	assert.Equal(t, StatePresenting, f.ctrl.State())
	assert.Equal(t, calls, f.guard.callCount())
	assert.Equal(t, 0, f.ctrl.Strikes())

	close(clock.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestCancelDuringPlayback(t *testing.T) {
	clock := newBlockingClock()
	f := newFixture(t, func(cfg *Config) { cfg.Clock = clock })
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: "logic", Content: "Speaking at length.", Type: council.TurnDebate},
		{SpeakerID: council.DecreeSpeakerID, Content: "Never reached.", Type: council.TurnDecree},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Submit(ctx, "query") }()

	<-clock.entered
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateIdle, f.ctrl.State())
	speaker, _ := f.ctrl.ActiveSpeaker()
	assert.Empty(t, speaker)

	// The aborted turn never landed in the transcript.
	transcript := f.ctrl.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, MessageUserQuery, transcript[0].Type)
}

func TestRejectionPreservesPreviousTranscript(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.turns = []council.ScriptTurn{
		{SpeakerID: council.DecreeSpeakerID, Content: "Original decree.", Type: council.TurnDecree},
	}
	require.NoError(t, f.ctrl.Submit(context.Background(), "first question"))
	require.Len(t, f.ctrl.Transcript(), 2)

	f.guard.verdict = council.GuardVerdict{Allowed: false, Reason: "No."}
	_ = f.ctrl.Submit(context.Background(), "second question")

	// The prior session's record survives a rejection.
	transcript := f.ctrl.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "Original decree.", transcript[1].Content)
}
