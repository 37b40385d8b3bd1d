package sustain

import (
	"log"
	"strings"
)

// Level grades a notice by whether the user should act on it.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Notice is a user-facing message. The presentation layer decides how to
// render it; the core only decides when one is warranted.
type Notice struct {
	Level   Level
	UserID  string
	ActorID string
	Message string
}

// Notifier surfaces notices to users.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to a logger. It is the fallback when no
// presentation layer is attached.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] %s", n.Level, n.Message)
}

// NoticeRecorder collects notices for inspection in tests.
type NoticeRecorder struct {
	Notices []Notice
}

// Notify implements Notifier.
func (r *NoticeRecorder) Notify(n Notice) {
	r.Notices = append(r.Notices, n)
}

// Has reports whether a notice at the given level mentions substr.
func (r *NoticeRecorder) Has(level Level, substr string) bool {
	for _, n := range r.Notices {
		if n.Level == level && strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}
