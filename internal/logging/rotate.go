package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotateDayFormat = "2006-01-02"

// rotatingWriter appends to a log file and rotates it when the local calendar
// day changes: the current file is renamed to "<name>.<day>" and a fresh file
// is opened. At most keep rotated files are retained per log.
type rotatingWriter struct {
	mu   sync.Mutex
	path string
	keep int
	f    *os.File
	day  string // local day the open file belongs to
	now  func() time.Time
}

func newRotatingWriter(path string, keep int) (*rotatingWriter, error) {
	w := &rotatingWriter{path: path, keep: keep, now: time.Now}

	day := w.now().Local().Format(rotateDayFormat)
	// A file left over from an earlier day belongs to that day and is
	// rotated on the first write.
	if info, err := os.Stat(path); err == nil {
		day = info.ModTime().Local().Format(rotateDayFormat)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w.f = f
	w.day = day
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := w.now().Local().Format(rotateDayFormat)
	if today != w.day {
		if err := w.rotate(today); err != nil {
			return 0, err
		}
	}
	return w.f.Write(p)
}

// rotate must be called with mu held.
func (w *rotatingWriter) rotate(today string) error {
	if err := w.f.Close(); err != nil {
		return err
	}
	backup := fmt.Sprintf("%s.%s", w.path, w.day)
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	w.prune()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.day = today
	return nil
}

// prune deletes the oldest rotated files beyond the keep count.
func (w *rotatingWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	var backups []string
	base := filepath.Base(w.path) + "."
	for _, m := range matches {
		suffix := strings.TrimPrefix(filepath.Base(m), base)
		if _, err := time.Parse(rotateDayFormat, suffix); err == nil {
			backups = append(backups, m)
		}
	}
	if len(backups) <= w.keep {
		return
	}
	// Dated suffixes sort chronologically.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-w.keep] {
		_ = os.Remove(old)
	}
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
