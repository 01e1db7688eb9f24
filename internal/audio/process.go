package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/config"
)

const (
	// startupSettle is how long a freshly spawned program must survive before
	// the stream counts as open.
	startupSettle = 300 * time.Millisecond
	stopTimeout   = 5 * time.Second
)

// ProcessDevice captures by running an external recording program
// (sox, rec, arecord, ffmpeg, pw-record) that writes straight to the file.
type ProcessDevice struct {
	backend string
	program string
	goos    string
	settle  time.Duration
}

// NewProcessDevice creates a device for backend. program overrides the
// executable looked up on PATH.
func NewProcessDevice(backend, program string) *ProcessDevice {
	if program == "" {
		program = defaultProgram(backend)
	}
	return &ProcessDevice{backend: backend, program: program, goos: runtime.GOOS, settle: startupSettle}
}

func (d *ProcessDevice) Name() string { return d.backend }

type processHandle struct {
	*baseHandle
	cmd      *exec.Cmd
	stderr   *lockedBuffer
	stopping atomic.Bool
	waitErr  error
}

// Open spawns the recording program and waits for it to settle. A program
// that exits during the settle period, or a ctx that expires first, fails the open.
func (d *ProcessDevice) Open(ctx context.Context, path string, p Params) (Handle, error) {
	args, err := buildArgs(d.backend, path, p, d.goos)
	if err != nil {
		return nil, err
	}

	os.Remove(path)

	cmd := exec.Command(d.program, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	log.Info().Str("backend", d.backend).Str("command", d.program+" "+strings.Join(args, " ")).Msg("starting capture program")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", d.program, err)
	}

	h := &processHandle{baseHandle: newBaseHandle(path), cmd: cmd, stderr: stderr}
	go h.wait()

	settle := time.NewTimer(d.settle)
	defer settle.Stop()

	select {
	case <-h.done:
		return nil, fmt.Errorf("%s exited during startup: %w", d.program, h.exitError())
	case <-ctx.Done():
		h.stopping.Store(true)
		cmd.Process.Kill()
		<-h.done
		os.Remove(path)
		return nil, fmt.Errorf("%s did not start in time: %w", d.program, ctx.Err())
	case <-settle.C:
	}
	return h, nil
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	h.waitErr = err
	if h.stopping.Load() {
		h.finish(nil)
		return
	}
	h.finish(h.exitError())
}

func (h *processHandle) exitError() error {
	msg := strings.TrimSpace(h.stderr.String())
	if h.waitErr == nil {
		if msg != "" {
			return fmt.Errorf("capture program exited: %s", msg)
		}
		return errors.New("capture program exited")
	}
	if msg != "" {
		return fmt.Errorf("%w: %s", h.waitErr, msg)
	}
	return h.waitErr
}

// Close interrupts the program so it can finalise the file, force killing it
// after a timeout.
func (d *ProcessDevice) Close(handle Handle) error {
	h, ok := handle.(*processHandle)
	if !ok {
		return ErrHandleMismatch
	}

	select {
	case <-h.done:
		// Exited on its own; nothing to signal.
		return h.Err()
	default:
	}

	h.stopping.Store(true)
	if h.cmd.Process != nil {
		log.Debug().Str("backend", d.backend).Msg("sending SIGINT to capture program")
		if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
			log.Debug().Err(err).Msg("failed to interrupt capture program, falling back to kill")
			h.cmd.Process.Kill()
		}
	}

	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		log.Warn().Str("backend", d.backend).Msg("capture program did not exit within timeout, force killing")
		h.cmd.Process.Kill()
		<-h.done
		return nil
	}

	if err := h.waitErr; err != nil && !isInterruptExit(err) {
		log.Debug().Str("stderr", h.stderr.String()).Msg("capture program output")
		return fmt.Errorf("capture program failed: %w", err)
	}
	return nil
}

// isInterruptExit reports whether err is the expected result of interrupting a recorder
func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// Exit code 255 and 130 are what ffmpeg and sox report after SIGINT
	if code := exitErr.ExitCode(); code == 255 || code == 130 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if state == "signal: interrupt" || state == "signal: killed" {
			return true
		}
	}
	return false
}

func defaultProgram(backend string) string {
	switch backend {
	case config.BackendSox:
		return "sox"
	case config.BackendRec:
		return "rec"
	case config.BackendArecord:
		return "arecord"
	case config.BackendFFmpeg:
		return "ffmpeg"
	case config.BackendPWRecord:
		return "pw-record"
	}
	return backend
}

// buildArgs returns the program arguments recording p into path
func buildArgs(backend, path string, p Params, goos string) ([]string, error) {
	rate := strconv.Itoa(p.SampleRate)
	channels := strconv.Itoa(p.Channels)

	switch backend {
	case config.BackendSox:
		args := []string{"-q"}
		if p.Device != "" {
			args = append(args, "-t", soxDriver(goos), p.Device)
		} else {
			args = append(args, "-d")
		}
		return append(args, "-r", rate, "-c", channels, "-b", "16", path), nil

	case config.BackendRec:
		return []string{"-q", "-r", rate, "-c", channels, "-b", "16", path}, nil

	case config.BackendArecord:
		if p.Format != "wav" {
			return nil, fmt.Errorf("arecord can only write wav, got %s", p.Format)
		}
		args := []string{"-q", "-f", "S16_LE", "-r", rate, "-c", channels, "-t", "wav"}
		if p.Device != "" {
			args = append(args, "-D", p.Device)
		}
		return append(args, path), nil

	case config.BackendFFmpeg:
		args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
		args = append(args, ffmpegInput(goos, p.Device)...)
		return append(args, "-ac", channels, "-ar", rate, path), nil

	case config.BackendPWRecord:
		args := []string{"--rate", rate, "--channels", channels}
		if p.Device != "" {
			args = append(args, "--target", p.Device)
		}
		return append(args, path), nil
	}
	return nil, fmt.Errorf("unsupported process backend: %s", backend)
}

func soxDriver(goos string) string {
	switch goos {
	case "darwin":
		return "coreaudio"
	case "windows":
		return "waveaudio"
	}
	return "alsa"
}

func ffmpegInput(goos, device string) []string {
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		return []string{"-f", "avfoundation", "-i", device}
	case "windows":
		if device == "" {
			device = "audio=default"
		}
		return []string{"-f", "dshow", "-i", device}
	}
	if device == "" {
		device = "default"
	}
	return []string{"-f", "pulse", "-i", device}
}

// lockedBuffer is a bytes.Buffer safe for the exec copier and readers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
