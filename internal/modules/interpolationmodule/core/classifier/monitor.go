package classifier

import (
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// Session is the part of a run the monitor acts on. The "error already
// shown" flag lives on the session so it is reset only when a new session
// is created.
type Session interface {
	ID() string
	// MarkErrorRaised records n as the run's notification and reports
	// whether this call was the first.
	MarkErrorRaised(n types.Notification) bool
	Cancel()
}

// Recorder receives a count of every classified line.
type Recorder interface {
	Classified(category types.ErrorCategory)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Engine        types.EngineKind
	LogFile       string
	Notifier      types.Notifier
	Recorder      Recorder
	CancelOnError bool
}

// Monitor classifies the output of one session. It raises at most one
// notification per session and requests cancellation on any error
// category. It is safe for concurrent use.
type Monitor struct {
	session Session
	opts    MonitorOptions
	logger  hclog.Logger
}

// NewMonitor creates a monitor bound to session.
func NewMonitor(session Session, opts MonitorOptions, logger hclog.Logger) *Monitor {
	return &Monitor{
		session: session,
		opts:    opts,
		logger:  logger.Named("classifier").With("session_id", session.ID()),
	}
}

// OnLogEvent implements types.LogObserver.
func (m *Monitor) OnLogEvent(event types.LogEvent) {
	if strings.TrimSpace(event.Line) == "" {
		return
	}

	category, ok := Classify(event.Line)
	if !ok {
		return
	}
	if m.opts.Recorder != nil {
		m.opts.Recorder.Classified(category)
	}

	if !category.IsError() {
		m.logger.Warn("WARNING: " + Guidance(category, m.opts.LogFile))
		return
	}

	n := types.Notification{
		SessionID: m.session.ID(),
		Engine:    m.opts.Engine,
		Category:  category,
		Line:      event.Line,
		Message:   Guidance(category, m.opts.LogFile),
		Timestamp: event.Timestamp,
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	if m.session.MarkErrorRaised(n) {
		m.logger.Error("engine reported an error", "category", category, "line", event.Line)
		if m.opts.Notifier != nil {
			m.opts.Notifier.Notify(n)
		}
	} else {
		m.logger.Debug("suppressed repeated engine error", "category", category)
	}

	if m.opts.CancelOnError {
		m.session.Cancel()
	}
}
