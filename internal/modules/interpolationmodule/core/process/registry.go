package process

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Registry tracks the engine processes currently running, keyed by PID and
// by session. The orchestration layer never kills processes itself; the
// registry exists so an operator-facing caller can.
type Registry struct {
	processes map[int]*Entry
	sessions  map[string]int
	mu        sync.RWMutex
	logger    hclog.Logger
}

// Entry describes a running engine process.
type Entry struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"sessionId"`
	Engine    string    `json:"engine"`
	StartTime time.Time `json:"startTime"`
}

// NewRegistry creates an empty registry.
func NewRegistry(logger hclog.Logger) *Registry {
	return &Registry{
		processes: make(map[int]*Entry),
		sessions:  make(map[string]int),
		logger:    logger.Named("process-registry"),
	}
}

// Register records a started process.
func (r *Registry) Register(pid int, sessionID, engine string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processes[pid] = &Entry{
		PID:       pid,
		SessionID: sessionID,
		Engine:    engine,
		StartTime: time.Now(),
	}
	if sessionID != "" {
		r.sessions[sessionID] = pid
	}
	r.logger.Debug("registered engine process", "pid", pid, "session_id", sessionID, "engine", engine)
}

// Unregister forgets pid.
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.processes[pid]; ok {
		delete(r.processes, pid)
		if r.sessions[entry.SessionID] == pid {
			delete(r.sessions, entry.SessionID)
		}
		r.logger.Debug("unregistered engine process", "pid", pid, "session_id", entry.SessionID)
	}
}

// PIDForSession returns the running PID for sessionID.
func (r *Registry) PIDForSession(sessionID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.sessions[sessionID]
	return pid, ok
}

// Entries returns all tracked processes ordered by PID.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.processes))
	for _, e := range r.processes {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries
}

// KillSession terminates the engine process of sessionID, if any.
func (r *Registry) KillSession(sessionID string) error {
	pid, ok := r.PIDForSession(sessionID)
	if !ok {
		return nil
	}
	r.logger.Warn("terminating engine process", "pid", pid, "session_id", sessionID)
	return killProcess(pid, r.logger)
}

// KillAll terminates every tracked process. Used on shutdown.
func (r *Registry) KillAll() {
	for _, e := range r.Entries() {
		if err := killProcess(e.PID, r.logger); err != nil {
			r.logger.Error("failed to terminate engine process", "pid", e.PID, "error", err)
		}
	}
}
