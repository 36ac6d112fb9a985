package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Logger is an audit backend.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig bounds the size of the active file and the number of
// rotated files kept beside it. Zero values disable each limit.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// FileLogger appends events to a JSON-lines file, rotating it by size.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu      sync.RWMutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileLogger opens (or creates) the log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.encoder = json.NewEncoder(f)
	return nil
}

// Path returns the active log file.
func (l *FileLogger) Path() string { return l.path }

// Log appends one event.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full() {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	return l.encoder.Encode(event)
}

func (l *FileLogger) full() bool {
	if l.rotation.MaxSize <= 0 {
		return false
	}
	info, err := l.file.Stat()
	return err == nil && info.Size() >= l.rotation.MaxSize
}

// Query returns the events matching filter, oldest first. Malformed lines are
// skipped.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return []*Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events := []*Event{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			util.Warnf("audit: skipping malformed entry at line %d: %v", line, err)
			continue
		}
		if matches(&e, filter) {
			events = append(events, &e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return page(events, filter.Offset, filter.Limit), nil
}

func page(events []*Event, offset, limit int) []*Event {
	if offset > 0 {
		if offset >= len(events) {
			return []*Event{}
		}
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func matches(e *Event, f Filter) bool {
	switch {
	case f.DeploymentID != "" && e.DeploymentID != f.DeploymentID:
		return false
	case f.Device != "" && e.Device != f.Device:
		return false
	case f.User != "" && e.User != f.User:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success:
		return false
	case f.FailureOnly && e.Success:
		return false
	}
	return true
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := l.path + "." + time.Now().Format("20060102-150405.000000000")
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}
	if l.rotation.MaxBackups > 0 {
		l.prune()
	}
	return nil
}

// prune removes the oldest rotated files beyond MaxBackups.
func (l *FileLogger) prune() {
	backups, err := filepath.Glob(l.path + ".*")
	if err != nil || len(backups) <= l.rotation.MaxBackups {
		return
	}
	// rotated names embed their timestamp, so lexical order is age order
	sort.Strings(backups)
	for _, p := range backups[:len(backups)-l.rotation.MaxBackups] {
		if err := os.Remove(p); err != nil {
			util.Warnf("audit: removing %s: %v", p, err)
		}
	}
}

// holder keeps atomic.Value storing a single concrete type.
type holder struct{ logger Logger }

var defaultLogger atomic.Value

// SetDefaultLogger installs the process-wide logger. Nil disables auditing.
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(holder{logger: logger})
}

func current() Logger {
	v, _ := defaultLogger.Load().(holder)
	return v.logger
}

// Log writes through the default logger. It is a no-op when none is set.
func Log(event *Event) error {
	if l := current(); l != nil {
		return l.Log(event)
	}
	return nil
}

// Query reads through the default logger.
func Query(filter Filter) ([]*Event, error) {
	if l := current(); l != nil {
		return l.Query(filter)
	}
	return []*Event{}, nil
}
