package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// EngineLog is the append-only per-engine log file. Lines are written
// verbatim, prefixed with the stream tag.
type EngineLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// OpenEngineLog opens (creating if needed) name inside dir for appending.
func OpenEngineLog(dir, name string) (*EngineLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine log: %w", err)
	}
	return &EngineLog{path: path, file: f}, nil
}

// Path returns the log file location.
func (l *EngineLog) Path() string {
	return l.path
}

// WriteLine appends one tagged line. Safe for concurrent use by the stdout
// and stderr readers.
func (l *EngineLog) WriteLine(stream types.Stream, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	_, err := fmt.Fprintf(l.file, "%s %s\n", stream.Tag(), line)
	return err
}

// Close closes the file. Further writes fail with os.ErrClosed.
func (l *EngineLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
