package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Transcript appends rendered history entries to a per-session log file.
// Writes are best effort; the first failure is kept and returned by Close.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
	path string
	err  error
}

var taskNameReplacer = strings.NewReplacer(" ", "_", ":", "", "/", "_")

// SafeTaskName makes a task name usable as a path component.
func SafeTaskName(task string) string {
	safe := taskNameReplacer.Replace(task)
	if safe == "" {
		return "default"
	}
	return safe
}

// OpenTranscript creates dir/<task>/conversation_<task>_<YYYYMMDD_HHMMSS>.txt.
func OpenTranscript(dir, task string, now time.Time) (*Transcript, error) {
	safe := SafeTaskName(task)
	folder := filepath.Join(dir, safe)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	path := filepath.Join(folder, fmt.Sprintf("conversation_%s_%s.txt", safe, now.Format("20060102_150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &Transcript{file: file, path: path}, nil
}

// Path returns the transcript file location.
func (t *Transcript) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Append writes one entry followed by a blank line.
func (t *Transcript) Append(entry string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	if _, err := t.file.WriteString(entry + "\n\n"); err != nil && t.err == nil {
		t.err = err
	}
}

// Close flushes and closes the file.
func (t *Transcript) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return t.err
	}
	err := t.file.Close()
	t.file = nil
	if t.err != nil {
		return t.err
	}
	return err
}
