package render

import (
	"log/slog"
	"sync"

	"github.com/jpalmerr/jobprogress"
)

// Log renders progress as structured log records.
//
// A record is emitted once per value refresh (on SetAriaAttributes, the last
// call of each refresh) and whenever the status text changes. Hidden sections
// are left out of the records.
type Log struct {
	mu      sync.Mutex
	logger  *slog.Logger
	percent string
	max     int
	status  string
	visible map[jobprogress.Section]bool
}

// NewLog creates a [Log] renderer. A nil logger uses [slog.Default].
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger:  logger,
		percent: "0%",
		visible: map[jobprogress.Section]bool{
			jobprogress.SectionStatus:  true,
			jobprogress.SectionSteps:   true,
			jobprogress.SectionPercent: true,
		},
	}
}

func (l *Log) SetWidth(string) {}

func (l *Log) SetStepText(int) {}

func (l *Log) SetMaxText(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n != l.max {
		l.logger.Debug("progress max updated", "max", n)
	}
	l.max = n
}

func (l *Log) SetPercentText(percent string) {
	l.mu.Lock()
	l.percent = percent
	l.mu.Unlock()
}

func (l *Log) SetStatusText(status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status == l.status {
		return
	}
	l.status = status
	if l.visible[jobprogress.SectionStatus] && status != "" {
		l.logger.Info("progress status", "status", status)
	}
}

func (l *Log) SetAriaAttributes(value, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	attrs := make([]any, 0, 6)
	if l.visible[jobprogress.SectionSteps] {
		attrs = append(attrs, "value", value, "max", max)
	}
	if l.visible[jobprogress.SectionPercent] {
		attrs = append(attrs, "percent", l.percent)
	}
	l.logger.Info("progress", attrs...)
}

func (l *Log) SetVisibility(section jobprogress.Section, visible bool) {
	l.mu.Lock()
	l.visible[section] = visible
	l.mu.Unlock()
}

func (l *Log) Release() {
	l.logger.Debug("progress display released")
}
