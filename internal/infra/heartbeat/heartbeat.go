package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File appends one marker line per report tick. It is a liveness artifact only;
// nothing reads it back.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Beat(at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create heartbeat directory: %w", err)
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open heartbeat file: %w", err)
	}
	defer fh.Close()

	if _, err := fmt.Fprintf(fh, "tick %s\n", at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to append heartbeat: %w", err)
	}
	return nil
}
