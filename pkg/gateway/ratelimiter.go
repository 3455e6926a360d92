package gateway

import (
	"sync"
	"time"
)

const defaultTurnsPerMinute = 30

// TurnLimiter caps caller turns in a sliding one-minute window.
type TurnLimiter struct {
	mu             sync.Mutex
	turnsPerMinute int
	turns          []time.Time
	now            func() time.Time
}

func NewTurnLimiter(turnsPerMinute int) *TurnLimiter {
	if turnsPerMinute <= 0 {
		turnsPerMinute = defaultTurnsPerMinute
	}
	return &TurnLimiter{
		turnsPerMinute: turnsPerMinute,
		now:            time.Now,
	}
}

// Allow records a turn when the window has room and reports why it refused
// otherwise.
func (l *TurnLimiter) Allow() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.turns) >= l.turnsPerMinute {
		return false, "rate limit exceeded"
	}
	l.turns = append(l.turns, now)
	return true, ""
}

// Count returns the turns in the current window.
func (l *TurnLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.turns)
}

func (l *TurnLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := l.turns[:0]
	for _, t := range l.turns {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.turns = kept
}
