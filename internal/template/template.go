// Package template handles measured-template placement: range checks for
// the initial drop and for each sustained move, plus timed placement
// sessions so an abandoned prompt does not wedge the spell.
package template

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/wawful/spell-sustainer/internal/errors"
	"github.com/wawful/spell-sustainer/internal/game"
)

// Constraints bound where a template may land. Zero ranges mean
// unconstrained.
type Constraints struct {
	CasterPosition game.Point
	MaxFromCaster  float64

	// PreviousPosition is set on sustained moves: the template may only
	// shift MaxFromPrevious away from where it already stands.
	PreviousPosition *game.Point
	MaxFromPrevious  float64
}

// Allows reports whether p satisfies every range bound.
func (c Constraints) Allows(p game.Point) error {
	if c.MaxFromCaster > 0 {
		if d := game.Distance(c.CasterPosition, p); d > c.MaxFromCaster {
			return apperrors.New(apperrors.CodePlacementOutOfRange,
				fmt.Sprintf("placement is %.0f ft from the caster, limit %.0f", d, c.MaxFromCaster)).
				WithMetadata(map[string]string{"limit": "caster-range"})
		}
	}
	if c.PreviousPosition != nil && c.MaxFromPrevious > 0 {
		if d := game.Distance(*c.PreviousPosition, p); d > c.MaxFromPrevious {
			return apperrors.New(apperrors.CodePlacementOutOfRange,
				fmt.Sprintf("placement moves %.0f ft, limit %.0f per sustain", d, c.MaxFromPrevious)).
				WithMetadata(map[string]string{"limit": "move-range"})
		}
	}
	return nil
}

// Result is the outcome of one placement session.
type Result struct {
	Position game.Point
	TimedOut bool
	Canceled bool
}

// Session is a single pending placement. It resolves exactly once: by a
// valid Resolve call, by Cancel, or by the timeout.
type Session struct {
	constraints Constraints

	mu       sync.Mutex
	resolved bool
	timer    *time.Timer
	onDone   func(Result)
}

func newSession(constraints Constraints, timeout time.Duration, onDone func(Result)) *Session {
	s := &Session{constraints: constraints, onDone: onDone}
	s.timer = time.AfterFunc(timeout, func() {
		s.finish(Result{TimedOut: true})
	})
	return s
}

// Resolve accepts a placement point. Out-of-range points leave the session
// open for another attempt.
func (s *Session) Resolve(p game.Point) error {
	if err := s.constraints.Allows(p); err != nil {
		return err
	}
	if !s.finish(Result{Position: p}) {
		return apperrors.New(apperrors.CodePlacementResolved, "placement already resolved")
	}
	return nil
}

// Cancel abandons the session.
func (s *Session) Cancel() {
	s.finish(Result{Canceled: true})
}

func (s *Session) finish(r Result) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved = true
	s.timer.Stop()
	done := s.onDone
	s.mu.Unlock()

	if done != nil {
		done(r)
	}
	return true
}

// Manager tracks pending placements keyed by the sustain record they
// belong to.
type Manager struct {
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions expire after timeout.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{timeout: timeout, sessions: make(map[string]*Session)}
}

// Begin opens a placement session for ref, replacing (and canceling) any
// session already pending for it.
func (m *Manager) Begin(ref string, constraints Constraints, onDone func(Result)) *Session {
	var session *Session
	session = newSession(constraints, m.timeout, func(r Result) {
		m.mu.Lock()
		if m.sessions[ref] == session {
			delete(m.sessions, ref)
		}
		m.mu.Unlock()
		if onDone != nil {
			onDone(r)
		}
	})

	m.mu.Lock()
	prev := m.sessions[ref]
	m.sessions[ref] = session
	m.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	return session
}

// Resolve forwards a placement point to the pending session for ref.
func (m *Manager) Resolve(ref string, p game.Point) error {
	m.mu.Lock()
	session, ok := m.sessions[ref]
	m.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodePlacementResolved,
			fmt.Sprintf("no pending placement for %s", ref))
	}
	return session.Resolve(p)
}

// Cancel abandons the pending session for ref, if any.
func (m *Manager) Cancel(ref string) {
	m.mu.Lock()
	session, ok := m.sessions[ref]
	m.mu.Unlock()
	if ok {
		session.Cancel()
	}
}

// Pending reports whether ref has an open placement session.
func (m *Manager) Pending(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[ref]
	return ok
}
