package sustain

import (
	"sync"
	"time"

	"github.com/wawful/spell-sustainer/internal/chat"
)

// saveMonitor is a time-boxed wait for saving-throw results from an expected
// target set. It resolves exactly once: on completeness, on deadline, or on
// cancellation. The completed flag is checked first in every path so a
// callback already in flight when resolution happens becomes a no-op.
type saveMonitor struct {
	mu        sync.Mutex
	completed bool

	// expected maps target actor id to display name.
	expected map[string]string
	outcomes map[string]chat.SaveOutcome

	timer      *time.Timer
	onComplete func(outcomes map[string]chat.SaveOutcome)
	onTimeout  func()
}

func newSaveMonitor(expected map[string]string, timeout time.Duration, onComplete func(map[string]chat.SaveOutcome), onTimeout func()) *saveMonitor {
	m := &saveMonitor{
		expected:   expected,
		outcomes:   make(map[string]chat.SaveOutcome, len(expected)),
		onComplete: onComplete,
		onTimeout:  onTimeout,
	}
	m.timer = time.AfterFunc(timeout, m.timedOut)
	return m
}

// observe offers a chat event to the monitor. Events that do not parse as a
// save result for an expected target are ignored.
func (m *saveMonitor) observe(msg chat.Message) {
	m.mu.Lock()
	if m.completed {
		m.mu.Unlock()
		return
	}

	result, ok := chat.ParseSaveResult(msg, m.expected)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.outcomes[result.ActorID] = result.Outcome

	if len(m.outcomes) < len(m.expected) {
		m.mu.Unlock()
		return
	}

	m.completed = true
	m.timer.Stop()
	outcomes := make(map[string]chat.SaveOutcome, len(m.outcomes))
	for id, outcome := range m.outcomes {
		outcomes[id] = outcome
	}
	done := m.onComplete
	m.mu.Unlock()

	if done != nil {
		done(outcomes)
	}
}

func (m *saveMonitor) timedOut() {
	m.mu.Lock()
	if m.completed {
		m.mu.Unlock()
		return
	}
	m.completed = true
	done := m.onTimeout
	m.mu.Unlock()

	if done != nil {
		done()
	}
}

// cancel resolves the monitor silently: no completion, no timeout notice.
func (m *saveMonitor) cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed {
		return
	}
	m.completed = true
	m.timer.Stop()
}
