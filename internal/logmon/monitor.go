// Package logmon tails per-instance server log files and feeds complete
// lines to a handler. Each tracked instance gets its own goroutine that
// owns the byte offset into <data>/logs/latest.log, reacting to
// filesystem notifications and surviving rotation, truncation and
// deletion of the file.
package logmon

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcadmin/mc-admin/pkg/logger"
)

// LineHandler receives every complete log line for an instance, in file
// order. It is called from the instance's watcher goroutine, so a slow
// handler backpressures that instance only.
type LineHandler func(instanceID, line string)

// Monitor manages one tail goroutine per tracked instance
type Monitor struct {
	handler LineHandler

	mu    sync.Mutex
	tails map[string]*tail
}

// NewMonitor creates a monitor that feeds lines to handler
func NewMonitor(handler LineHandler) *Monitor {
	return &Monitor{
		handler: handler,
		tails:   make(map[string]*tail),
	}
}

// Watch starts tailing logPath for the given instance. Watching an
// already-watched instance is a no-op.
func (m *Monitor) Watch(instanceID, logPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tails[instanceID]; ok {
		return
	}

	t := &tail{
		instanceID: instanceID,
		path:       logPath,
		dir:        filepath.Dir(logPath),
		handler:    m.handler,
		log: logger.WithFields(map[string]interface{}{
			"component": "logmon",
			"server":    instanceID,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.tails[instanceID] = t
	go t.run()

	t.log.Info("started log watcher")
}

// Unwatch stops tailing the given instance and waits for its goroutine
// to exit
func (m *Monitor) Unwatch(instanceID string) {
	m.mu.Lock()
	t, ok := m.tails[instanceID]
	if ok {
		delete(m.tails, instanceID)
	}
	m.mu.Unlock()

	if ok {
		t.shutdown()
	}
}

// Watched reports whether the instance is currently being tailed
func (m *Monitor) Watched(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tails[instanceID]
	return ok
}

// WatchedIDs lists the instances currently being tailed
func (m *Monitor) WatchedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tails))
	for id := range m.tails {
		ids = append(ids, id)
	}
	return ids
}

// Close stops all watchers
func (m *Monitor) Close() {
	m.mu.Lock()
	tails := make([]*tail, 0, len(m.tails))
	for id, t := range m.tails {
		tails = append(tails, t)
		delete(m.tails, id)
	}
	m.mu.Unlock()

	for _, t := range tails {
		t.shutdown()
	}
}

// tail owns the byte offset for a single log file. The offset only ever
// advances past complete lines: a trailing partial line stays in the
// file until its newline arrives.
type tail struct {
	instanceID string
	path       string
	dir        string
	offset     int64
	handler    LineHandler
	log        *logger.FieldLogger

	stop chan struct{}
	done chan struct{}
}

func (t *tail) shutdown() {
	close(t.stop)
	<-t.done
}

func (t *tail) run() {
	defer close(t.done)

	// Start at the current end of file so a restart does not replay
	// history. A missing file starts at zero once it appears.
	absent := true
	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
		absent = false
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Error("failed to create filesystem watcher, polling only", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.dir); err != nil {
			// Parent dir may not exist yet; the poll loop retries the add
			t.log.Warn("log directory not watchable yet")
		}
	}

	var events chan fsnotify.Event
	var errors chan error
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create):
				t.offset = 0
				absent = false
				t.readNew()
			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				absent = true
			case event.Op.Has(fsnotify.Write):
				t.readNew()
			}

		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			t.log.Error("filesystem watcher error", err)

		case <-ticker.C:
			if watcher != nil {
				// Re-add is cheap and heals a watch lost to dir recreation
				_ = watcher.Add(t.dir)
			}
			info, err := os.Stat(t.path)
			if err != nil {
				absent = true
				continue
			}
			if absent {
				// File (re)appeared between notifications
				t.offset = 0
				absent = false
				t.readNew()
				continue
			}
			// Poll fallback catches writes the watcher missed
			if info.Size() != t.offset {
				t.readNew()
			}
		}
	}
}

// readNew reads from the stored offset to EOF and hands complete lines
// to the handler. A file size below the offset means truncation or
// rotation, which resets the offset to the start.
func (t *tail) readNew() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
	}

	file, err := os.Open(t.path)
	if err != nil {
		t.log.Error("failed to open log file", err)
		return
	}
	defer file.Close()

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		t.log.Error("failed to seek log file", err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		t.log.Error("failed to read log file", err)
		return
	}

	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		return
	}
	t.offset += int64(last + 1)

	for _, line := range strings.Split(string(data[:last]), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		t.handler(t.instanceID, line)
	}
}
