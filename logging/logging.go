// Package logging tees the process log to stdout and a size-rotated file, so
// a long-lived daemon keeps a bounded on-disk trail next to its database.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	// maxLogSize caps the live file before it rolls into a numbered backup.
	maxLogSize = 4 * 1024 * 1024

	// backupCount is how many rotated files survive: pricepilot.log.1 is the
	// newest backup, pricepilot.log.2 the oldest.
	backupCount = 2
)

// RotatingWriter writes to a log file and rolls it over backups when it
// outgrows maxLogSize. Safe for concurrent use through the log package.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup opens (or creates) the log file at logPath, points the stdlib logger
// at stdout plus the file, and returns the writer so main can close it.
func Setup(logPath string) (*RotatingWriter, error) {
	rw := &RotatingWriter{path: logPath, maxSize: maxLogSize}

	if info, err := os.Stat(logPath); err == nil && info.Size() > maxLogSize {
		// Oversized from a previous life: roll it instead of losing it.
		rw.shiftBackups()
	}

	if err := rw.open(); err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.size = 0
	if info, err := f.Stat(); err == nil {
		w.size = info.Size()
	}
	w.file = f
	return nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		// Rotation failed to reopen; drop the file copy, stdout still gets it.
		return len(p), nil
	}

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}
	return n, err
}

// rotate closes the live file, shifts the backup chain, and reopens. Errors
// here are swallowed: a failed rotation must not take the logger down.
func (w *RotatingWriter) rotate() {
	w.file.Close()
	w.shiftBackups()
	if err := w.open(); err != nil {
		w.file = nil
	}
}

// shiftBackups ages the chain: .1 becomes .2, the live file becomes .1, and
// whatever held the oldest slot falls off.
func (w *RotatingWriter) shiftBackups() {
	for i := backupCount; i > 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", w.path, i-1), fmt.Sprintf("%s.%d", w.path, i))
	}
	os.Rename(w.path, w.path+".1")
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
