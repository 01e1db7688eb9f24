package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FakeDevice is an in-memory CaptureDevice for tests. Open writes a WAV file
// of FileSize bytes; the failure knobs make Open or Close fail.
type FakeDevice struct {
	mu        sync.Mutex
	OpenErr   error
	CloseErr  error
	OpenDelay time.Duration
	FileSize  int

	opens   int
	closes  int
	handles []*FakeHandle
}

type FakeHandle struct {
	*baseHandle
	once sync.Once
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{FileSize: 4096}
}

func (f *FakeDevice) Name() string { return "fake" }

func (f *FakeDevice) Open(ctx context.Context, path string, p Params) (Handle, error) {
	f.mu.Lock()
	f.opens++
	openErr, delay, size := f.OpenErr, f.OpenDelay, f.FileSize
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("fake open: %w", ctx.Err())
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	data := make([]byte, size)
	copy(data, "RIFF")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}

	h := &FakeHandle{baseHandle: newBaseHandle(path)}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *FakeDevice) Close(handle Handle) error {
	h, ok := handle.(*FakeHandle)
	if !ok {
		return ErrHandleMismatch
	}
	f.mu.Lock()
	f.closes++
	closeErr := f.CloseErr
	f.mu.Unlock()

	select {
	case <-h.done:
		return h.Err()
	default:
	}
	h.once.Do(func() { h.finish(nil) })
	return closeErr
}

// Kill simulates the capture dying on its own
func (f *FakeDevice) Kill(handle Handle) {
	h := handle.(*FakeHandle)
	h.once.Do(func() { h.finish(errors.New("fake capture died")) })
}

func (f *FakeDevice) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *FakeDevice) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Active returns the handles that have not ended yet
func (f *FakeDevice) Active() []Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Handle
	for _, h := range f.handles {
		select {
		case <-h.done:
		default:
			out = append(out, h)
		}
	}
	return out
}

func (f *FakeDevice) SetOpenErr(err error) {
	f.mu.Lock()
	f.OpenErr = err
	f.mu.Unlock()
}

func (f *FakeDevice) SetCloseErr(err error) {
	f.mu.Lock()
	f.CloseErr = err
	f.mu.Unlock()
}
