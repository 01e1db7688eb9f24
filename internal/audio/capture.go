package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MinRecordingSize is the smallest file accepted as a finished recording:
// a WAV header plus a little audio.
const MinRecordingSize = 1024

var ErrHandleMismatch = errors.New("handle was not opened by this device")

// Params describes the stream to capture
type Params struct {
	SampleRate int
	Channels   int
	Format     string // "wav" or "flac"
	Device     string // backend-specific input device, empty for default
}

// Handle is a live capture stream. Done is closed when the stream ends,
// either through Close or because the underlying capture died on its own.
type Handle interface {
	Path() string
	StartedAt() time.Time
	Done() <-chan struct{}
	// Err reports why the stream ended unexpectedly. It is nil while the
	// stream runs and after a clean Close.
	Err() error
}

// CaptureDevice opens and closes single capture streams written to a file
type CaptureDevice interface {
	Name() string
	Open(ctx context.Context, path string, p Params) (Handle, error)
	Close(h Handle) error
}

// FileName returns the deterministic recording file name for a start time,
// e.g. recording-2024-03-01T09-30-00-123Z.wav
func FileName(t time.Time, format string) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return fmt.Sprintf("recording-%s.%s", ts, format)
}

// PreparePath creates dir if needed and returns the recording path for t
func PreparePath(dir string, t time.Time, format string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(dir, FileName(t, format)), nil
}

// ValidateOutputFile checks that a finished recording exists and holds data
func ValidateOutputFile(path string) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", path)
	}
	if fileInfo.Size() < MinRecordingSize {
		return fmt.Errorf("recording failed: file too small (%d bytes)", fileInfo.Size())
	}
	log.Debug().Str("path", path).Int64("size", fileInfo.Size()).Msg("output file validated")
	return nil
}

// baseHandle carries the state shared by every backend's handle
type baseHandle struct {
	path      string
	startedAt time.Time
	done      chan struct{}
	err       error
}

func newBaseHandle(path string) *baseHandle {
	return &baseHandle{path: path, startedAt: time.Now(), done: make(chan struct{})}
}

func (h *baseHandle) Path() string          { return h.path }
func (h *baseHandle) StartedAt() time.Time  { return h.startedAt }
func (h *baseHandle) Done() <-chan struct{} { return h.done }

// Err is only meaningful once Done is closed
func (h *baseHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// finish records the terminal error and closes done. Callers guarantee it runs once.
func (h *baseHandle) finish(err error) {
	h.err = err
	close(h.done)
}
