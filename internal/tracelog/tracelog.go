// Package tracelog writes a timestamped record of raw AT command traffic
// (both directions) to disk for field debugging. Adapted from the teacher's
// logs.Writer: the date-stamped file plus current.log symlink rotation
// scheme and the retention-day cleanup loop survive; the ANSI/VT100
// cursor-position cleaning, screen-redraw dedup, and per-server directory
// fan-out do not apply to a single serial link and have been dropped.
package tracelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tracer appends AT-command trace lines to a rotating log file under
// basePath. A nil *Tracer is valid and silently discards all writes, so
// callers can wire it unconditionally and skip it only when tracing is
// disabled in configuration.
type Tracer struct {
	mu            sync.Mutex
	basePath      string
	retentionDays int
	file          *os.File
}

// New opens (or creates) the current trace file under basePath. retentionDays
// of 0 disables Cleanup.
func New(basePath string, retentionDays int) (*Tracer, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("tracelog: create directory: %w", err)
	}

	t := &Tracer{basePath: basePath, retentionDays: retentionDays}
	if err := t.openOrContinue(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracer) openOrContinue() error {
	symlinkPath := filepath.Join(t.basePath, "current.log")

	if target, err := os.Readlink(symlinkPath); err == nil {
		existingPath := filepath.Join(t.basePath, target)
		if f, err := os.OpenFile(existingPath, os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			t.file = f
			return nil
		}
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(t.basePath, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("tracelog: create log file: %w", err)
	}
	t.file = f

	os.Remove(symlinkPath)
	os.Symlink(filename, symlinkPath)
	return nil
}

// Direction labels a traced line's origin.
type Direction string

const (
	TX Direction = "TX"
	RX Direction = "RX"
)

// Line appends a single timestamped trace entry. A nil Tracer is a no-op.
func (t *Tracer) Line(dir Direction, text string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return
	}
	entry := fmt.Sprintf("%s %s %s\n", time.Now().Format(time.RFC3339Nano), dir, text)
	if _, err := t.file.WriteString(entry); err != nil {
		log.WithError(err).Warn("tracelog: write failed")
	}
}

// Rotate closes the current file and starts a new one, returning its name.
func (t *Tracer) Rotate() (string, error) {
	if t == nil {
		return "", nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	symlinkPath := filepath.Join(t.basePath, "current.log")
	os.Remove(symlinkPath)

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(t.basePath, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("tracelog: rotate: %w", err)
	}
	t.file = f
	os.Symlink(filename, symlinkPath)

	log.Infof("tracelog: rotated to %s", filename)
	return filename, nil
}

// Cleanup deletes trace files older than retentionDays. A no-op when
// retentionDays is 0.
func (t *Tracer) Cleanup() {
	if t == nil || t.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)
	entries, err := os.ReadDir(t.basePath)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(t.basePath, entry.Name())
			if err := os.Remove(path); err == nil {
				log.Infof("tracelog: removed expired trace file %s", path)
			}
		}
	}
}

// Close closes the underlying file. A nil Tracer is a no-op.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
