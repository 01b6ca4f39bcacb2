package types

import "time"

// Stream identifies which output pipe a line came from.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// Tag returns the log file prefix for the stream.
func (s Stream) Tag() string {
	if s == StreamStderr {
		return "[E]"
	}
	return "[O]"
}

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// MarshalText encodes the stream by name.
func (s Stream) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LogEvent is a single line read from an engine's output.
type LogEvent struct {
	Line      string    `json:"line"`
	Stream    Stream    `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
}

// LogObserver receives log events while an engine runs. Events from stdout
// and stderr are delivered from separate goroutines, so implementations must
// be safe for concurrent use.
type LogObserver interface {
	OnLogEvent(event LogEvent)
}

// LogObserverFunc adapts a function to LogObserver.
type LogObserverFunc func(event LogEvent)

// OnLogEvent calls f(event).
func (f LogObserverFunc) OnLogEvent(event LogEvent) {
	f(event)
}

// MultiObserver fans an event out to several observers in order.
type MultiObserver []LogObserver

// OnLogEvent forwards the event to every non-nil observer.
func (m MultiObserver) OnLogEvent(event LogEvent) {
	for _, o := range m {
		if o != nil {
			o.OnLogEvent(event)
		}
	}
}
