// Package encoder feeds frames to an incremental consumer as the engine
// writes them.
package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
)

// Sink receives the absolute path of each settled frame, in name order.
type Sink func(path string) error

// FrameFeed watches an output directory and hands finished frames to a
// Sink. A frame is considered finished once no write event has been seen
// for it for the settle time.
//
// The output directory is renamed away and recreated between passes, so
// the feed watches its parent as well and re-adds the directory when it
// reappears. Frames queued from an earlier incarnation of the directory
// are dropped at that point.
type FrameFeed struct {
	dir      string
	exts     map[string]bool
	settle   time.Duration
	sink     Sink
	logger   hclog.Logger
	reporter ierrors.ErrorReporter

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	rescan  chan chan struct{}

	// owned by the event loop
	dirInfo os.FileInfo

	mu        sync.Mutex
	paused    bool
	pending   map[string]time.Time
	sent      map[string]bool
	delivered int
	inFlight  bool
}

// NewFrameFeed creates a feed for dir. reporter may be nil.
func NewFrameFeed(dir string, cfg config.EncoderConfig, sink Sink, reporter ierrors.ErrorReporter, logger hclog.Logger) *FrameFeed {
	exts := make(map[string]bool)
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	settle := cfg.SettleTime
	if settle <= 0 {
		settle = 250 * time.Millisecond
	}
	return &FrameFeed{
		dir:      filepath.Clean(dir),
		exts:     exts,
		settle:   settle,
		sink:     sink,
		logger:   logger.Named("frame-feed"),
		reporter: reporter,
		pending:  make(map[string]time.Time),
		sent:     make(map[string]bool),
		rescan:   make(chan chan struct{}),
	}
}

// Start begins watching. Frames already present in the directory are
// queued immediately.
func (f *FrameFeed) Start(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return ierrors.StorageError("frame_feed_start", err)
	}
	info, err := os.Stat(f.dir)
	if err != nil {
		return ierrors.StorageError("frame_feed_start", err)
	}
	f.dirInfo = info

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ierrors.InternalError("frame_feed_start", err)
	}
	if err := watcher.Add(filepath.Dir(f.dir)); err != nil {
		watcher.Close()
		return ierrors.StorageError("frame_feed_watch", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return ierrors.StorageError("frame_feed_watch", err)
	}

	f.watcher = watcher
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.scan()

	f.wg.Add(1)
	go f.loop()

	f.logger.Info("watching output directory", "dir", f.dir, "settle", f.settle)
	return nil
}

// Stop stops watching and waits for the event loop to exit. Frames still
// pending are not delivered.
func (f *FrameFeed) Stop() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	f.wg.Wait()
	return f.watcher.Close()
}

// Pause holds back delivery. Events are still tracked.
func (f *FrameFeed) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

// Resume re-enables delivery. Frames queued before the directory was
// rotated away are dropped and the current contents are queued instead.
func (f *FrameFeed) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
	f.Rescan()
}

// Rescan makes the event loop check for a recreated directory and queue
// every frame in it that has not been delivered yet. It returns once the
// loop has done so, or immediately if the feed is not running.
func (f *FrameFeed) Rescan() {
	if f.ctx == nil {
		return
	}
	reply := make(chan struct{})
	select {
	case f.rescan <- reply:
	case <-f.ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-f.ctx.Done():
	}
}

// HasPendingWork reports whether frames are queued or being delivered.
func (f *FrameFeed) HasPendingWork() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) > 0 || f.inFlight
}

// Delivered returns how many frames have been handed to the sink.
func (f *FrameFeed) Delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered
}

// Wait blocks until no work is pending or ctx is done. Frames already on
// disk whose events have not been read yet count as pending.
func (f *FrameFeed) Wait(ctx context.Context) error {
	f.Rescan()
	ticker := time.NewTicker(f.settle / 2)
	defer ticker.Stop()
	for f.HasPendingWork() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (f *FrameFeed) loop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("watcher error", "error", err)

		case <-ticker.C:
			f.flush()

		case reply := <-f.rescan:
			f.refresh()
			close(reply)

		case <-f.ctx.Done():
			return
		}
	}
}

func (f *FrameFeed) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	if name == f.dir {
		if event.Op&fsnotify.Create == fsnotify.Create {
			f.refresh()
		}
		return
	}

	if filepath.Dir(name) != f.dir || !f.matches(name) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(f.pending, name)
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if !f.sent[name] {
			f.pending[name] = time.Now()
		}
	}
}

func (f *FrameFeed) refresh() {
	f.checkRotation()
	f.scan()
}

// checkRotation notices when the directory has been replaced by a new one
// at the same path. The old watch followed the renamed directory and still
// reports under the old name, so it is swapped for one on the new
// directory, and everything queued or delivered for the old one is
// forgotten.
func (f *FrameFeed) checkRotation() {
	info, err := os.Stat(f.dir)
	if err != nil || os.SameFile(info, f.dirInfo) {
		return
	}
	f.dirInfo = info

	f.mu.Lock()
	dropped := len(f.pending)
	f.pending = make(map[string]time.Time)
	f.sent = make(map[string]bool)
	f.mu.Unlock()

	_ = f.watcher.Remove(f.dir)
	if err := f.watcher.Add(f.dir); err != nil {
		f.logger.Warn("failed to re-watch output directory", "dir", f.dir, "error", err)
		return
	}
	f.logger.Debug("re-watching recreated output directory", "dir", f.dir, "dropped", dropped)
}

func (f *FrameFeed) matches(name string) bool {
	if len(f.exts) == 0 {
		return true
	}
	return f.exts[strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))]
}

// scan queues every matching file currently in the directory.
func (f *FrameFeed) scan() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		name := filepath.Join(f.dir, e.Name())
		if e.IsDir() || !f.matches(name) || f.sent[name] {
			continue
		}
		if _, ok := f.pending[name]; !ok {
			f.pending[name] = time.Now()
		}
	}
}

// flush delivers settled frames unless paused.
func (f *FrameFeed) flush() {
	f.checkRotation()

	f.mu.Lock()
	if f.paused || f.inFlight || len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	cutoff := time.Now().Add(-f.settle)
	var ready []string
	for name, seen := range f.pending {
		if !seen.After(cutoff) {
			ready = append(ready, name)
		}
	}
	if len(ready) == 0 {
		f.mu.Unlock()
		return
	}
	for _, name := range ready {
		delete(f.pending, name)
		f.sent[name] = true
	}
	f.inFlight = true
	f.mu.Unlock()

	sort.Strings(ready)
	sent := 0
	var missing []string
	for _, name := range ready {
		if _, err := os.Stat(name); err != nil {
			missing = append(missing, name)
			continue
		}
		if err := f.sink(name); err != nil {
			f.logger.Error("frame delivery failed", "frame", name, "error", err)
			if f.reporter != nil {
				f.reporter.ReportError(f.ctx, ierrors.StorageError("frame_feed_deliver", err).WithDetail("frame", name))
			}
			continue
		}
		sent++
	}

	f.mu.Lock()
	for _, name := range missing {
		delete(f.sent, name)
	}
	f.delivered += sent
	f.inFlight = false
	f.mu.Unlock()
}

// ConcatList appends every frame it receives to a list file in the format
// read by ffmpeg's concat demuxer.
type ConcatList struct {
	mu   sync.Mutex
	path string
}

// NewConcatList creates (or truncates) the list file at path.
func NewConcatList(path string) (*ConcatList, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	return &ConcatList{path: path}, nil
}

// Path returns the list file location.
func (c *ConcatList) Path() string { return c.path }

// Append is a Sink.
func (c *ConcatList) Append(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = fmt.Fprintf(file, "file '%s'\n", strings.ReplaceAll(frame, "'", `'\''`))
	return err
}
