package session

import (
	"context"
	"time"
)

// Clock abstracts playback pacing so the presenting state machine is
// unit-testable without real wall-clock waits.
type Clock interface {
	// Sleep suspends for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewRealClock returns a Clock backed by the wall clock.
func NewRealClock() Clock { return realClock{} }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Playback pacing bounds: per-turn display time scales with content length
// but stays readable regardless of how verbose a member is.
const (
	delayPerByte = 40 * time.Millisecond
	minTurnDelay = 2500 * time.Millisecond
	maxTurnDelay = 7000 * time.Millisecond
)

// playbackDelay computes the display delay for a turn's content:
// clamp(len(content) * 40ms, 2.5s, 7s).
func playbackDelay(content string) time.Duration {
	d := time.Duration(len(content)) * delayPerByte
	if d < minTurnDelay {
		return minTurnDelay
	}
	if d > maxTurnDelay {
		return maxTurnDelay
	}
	return d
}
