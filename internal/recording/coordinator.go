// Package recording owns the single active recording session. Every trigger
// source (hotkey, tray, server, window) goes through one Coordinator.
package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

// State is the coordinator's position in the session lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateCancelling State = "cancelling"
)

// Status is the snapshot broadcast to presentation layers
type Status = events.RecordingStatus

const defaultStartTimeout = 5 * time.Second

// Controller is the surface trigger sources drive
type Controller interface {
	Start(ctx context.Context, req StartRequest) (*StartResult, error)
	Stop(ctx context.Context) (*StopResult, error)
	Cancel(ctx context.Context) error
	Status() Status
}

// Publisher receives status broadcasts
type Publisher interface {
	Publish(events.Event)
}

// Options configures capture for new sessions
type Options struct {
	OutputDir    string
	Params       audio.Params
	StartTimeout time.Duration
}

type StartRequest struct {
	// Title for a new task; a dated default is used when empty.
	Title string
	// TaskID records into an existing queued task instead of creating one.
	TaskID string
}

type StartResult struct {
	TaskID string `json:"taskId"`
	Path   string `json:"path"`
}

// StopResult describes a completed recording. Stop only returns one when the
// file holds at least audio.MinRecordingSize bytes; a smaller capture fails
// with ErrNoAudio instead.
type StopResult struct {
	TaskID   string  `json:"taskId"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

type session struct {
	taskID    string
	handle    audio.Handle
	startedAt time.Time
	release   chan struct{} // closed when the coordinator takes the handle back
}

// Coordinator enforces at most one recording at a time. Start, Stop and
// Cancel pass through a single-slot gate; a call that finds the gate taken
// fails with ErrOperationInProgress instead of waiting.
type Coordinator struct {
	store  tasks.Store
	pub    Publisher
	gate   chan struct{}
	now    func() time.Time
	closed atomic.Bool

	// guarded by gate
	device  audio.CaptureDevice
	opts    Options
	session *session

	snapshot atomic.Pointer[Status]
	lastPath string
	monitors sync.WaitGroup
}

var _ Controller = (*Coordinator)(nil)

func New(store tasks.Store, device audio.CaptureDevice, pub Publisher, opts Options) *Coordinator {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	c := &Coordinator{
		store:  store,
		device: device,
		pub:    pub,
		opts:   opts,
		gate:   make(chan struct{}, 1),
		now:    time.Now,
	}
	c.snapshot.Store(&Status{State: string(StateIdle)})
	return c
}

func (c *Coordinator) tryAcquire() bool {
	select {
	case c.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() { <-c.gate }

// Status returns the latest snapshot. It never blocks.
func (c *Coordinator) Status() Status {
	return *c.snapshot.Load()
}

func (c *Coordinator) setState(state State, broadcast bool) {
	st := Status{State: string(state), LastPath: c.lastPath}
	if s := c.session; s != nil {
		st.IsRecording = true
		st.ActiveTaskID = s.taskID
		st.StartedAt = s.startedAt
	}
	c.snapshot.Store(&st)
	if broadcast && c.pub != nil {
		c.pub.Publish(events.StatusEvent(st))
	}
}

func (c *Coordinator) publishTask(id, msg string) {
	if c.pub == nil {
		return
	}
	e := events.NewEvent(events.EventTaskChanged, events.SourceCoordinator)
	e.TaskID = id
	e.Message = msg
	c.pub.Publish(e)
}

// Reconfigure swaps the capture device and options. Only allowed while idle.
func (c *Coordinator) Reconfigure(device audio.CaptureDevice, opts Options) error {
	if !c.tryAcquire() {
		return ErrOperationInProgress
	}
	defer c.release()
	if c.session != nil {
		return fmt.Errorf("cannot change capture settings: %w", ErrAlreadyRecording)
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if device != nil {
		c.device = device
	}
	c.opts = opts
	log.Info().Str("backend", c.device.Name()).Int("sample_rate", opts.Params.SampleRate).
		Int("channels", opts.Params.Channels).Str("format", opts.Params.Format).Msg("capture settings updated")
	return nil
}

// Start creates (or picks up) a task, moves it to recording and opens the
// capture stream. If the capture cannot be opened the task is put back in the
// queue before Start returns.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if c.closed.Load() {
		return nil, ErrShuttingDown
	}
	if !c.tryAcquire() {
		return nil, ErrOperationInProgress
	}
	defer c.release()

	if c.session != nil {
		return nil, ErrAlreadyRecording
	}
	// store writes after this point must not be abandoned halfway
	// because the caller gave up
	bg := context.WithoutCancel(ctx)

	if other, err := c.store.FindRecording(ctx); err != nil {
		return nil, fmt.Errorf("check active recording: %w", err)
	} else if other != nil {
		log.Warn().Str("task_id", other.ID).Msg("store reports a recording task without a live session")
		return nil, ErrAlreadyRecording
	}

	c.setState(StateStarting, false)
	defer func() {
		if c.session == nil {
			c.setState(StateIdle, false)
		}
	}()

	task, created, err := c.startTask(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.Transition(bg, task.ID, tasks.StatusQueued, tasks.StatusRecording, tasks.Patch{}); err != nil {
		if created {
			c.dropTask(task.ID)
		}
		if errors.Is(err, tasks.ErrRecordingExists) {
			return nil, ErrAlreadyRecording
		}
		if errors.Is(err, tasks.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotQueued, task.ID)
		}
		return nil, fmt.Errorf("mark task recording: %w", err)
	}

	startedAt := c.now()
	path, err := audio.PreparePath(c.opts.OutputDir, startedAt, c.opts.Params.Format)
	if err == nil {
		openCtx, cancel := context.WithTimeout(ctx, c.opts.StartTimeout)
		var h audio.Handle
		h, err = c.device.Open(openCtx, path, c.opts.Params)
		cancel()
		if err == nil {
			s := &session{taskID: task.ID, handle: h, startedAt: h.StartedAt(), release: make(chan struct{})}
			c.session = s
			c.monitors.Add(1)
			go c.monitor(s)

			log.Info().Str("task_id", task.ID).Str("path", path).Str("backend", c.device.Name()).Msg("recording started")
			c.setState(StateRecording, true)
			c.publishTask(task.ID, "recording")
			return &StartResult{TaskID: task.ID, Path: path}, nil
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(fmt.Errorf("%w: %v", ErrFileCleanupFailed, rmErr)).Str("path", path).Msg("partial capture file left behind")
		}
	}

	startErr := fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
	log.Error().Err(err).Str("task_id", task.ID).Msg("capture failed to start, returning task to queue")
	if _, rerr := c.store.Transition(bg, task.ID, tasks.StatusRecording, tasks.StatusQueued, tasks.Patch{}); rerr != nil {
		log.Error().Err(rerr).Str("task_id", task.ID).Msg("failed to return task to queue after capture failure")
		return nil, errors.Join(startErr, &PersistenceInconsistencyError{TaskID: task.ID, Err: rerr})
	}
	c.publishTask(task.ID, "queued")
	return nil, startErr
}

func (c *Coordinator) startTask(ctx context.Context, req StartRequest) (*tasks.Task, bool, error) {
	if req.TaskID != "" {
		t, err := c.store.Get(ctx, req.TaskID)
		if err != nil {
			return nil, false, err
		}
		if t.Status != tasks.StatusQueued {
			return nil, false, fmt.Errorf("%w: %s is %s", ErrTaskNotQueued, t.ID, t.Status)
		}
		return t, false, nil
	}
	title := req.Title
	if title == "" {
		title = "Recording " + c.now().Local().Format("2006-01-02 15:04:05")
	}
	t, err := c.store.Create(ctx, title, tasks.StatusQueued)
	if err != nil {
		return nil, false, fmt.Errorf("create task: %w", err)
	}
	return t, true, nil
}

// dropTask removes a task Start created but never used
func (c *Coordinator) dropTask(id string) {
	if err := c.store.Delete(context.Background(), id); err != nil {
		log.Warn().Err(err).Str("task_id", id).Msg("failed to remove unused task")
	}
}

// Stop closes the capture and completes the task with the recorded file.
func (c *Coordinator) Stop(ctx context.Context) (*StopResult, error) {
	if !c.tryAcquire() {
		return nil, ErrOperationInProgress
	}
	defer c.release()

	s := c.session
	if s == nil {
		return nil, ErrNoActiveRecording
	}
	c.setState(StateStopping, false)
	return c.stop(context.WithoutCancel(ctx), s)
}

func (c *Coordinator) stop(ctx context.Context, s *session) (*StopResult, error) {
	close(s.release)
	closeErr := c.device.Close(s.handle)
	endedAt := c.now()
	c.session = nil
	if closeErr != nil {
		log.Warn().Err(closeErr).Str("task_id", s.taskID).Msg("capture did not close cleanly")
	}
	return c.finalize(ctx, s, endedAt)
}

// finalize records the outcome of a session whose capture is already closed.
// A usable file completes the task; anything else returns it to the queue.
func (c *Coordinator) finalize(ctx context.Context, s *session, endedAt time.Time) (*StopResult, error) {
	path := s.handle.Path()
	defer c.setState(StateIdle, true)

	if verr := audio.ValidateOutputFile(path); verr != nil {
		log.Error().Err(verr).Str("task_id", s.taskID).Str("path", path).Msg("no usable audio, returning task to queue")
		if err := c.discard(ctx, s); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoAudio, verr)
	}

	duration := endedAt.Sub(s.startedAt).Seconds()
	if _, err := c.store.Transition(ctx, s.taskID, tasks.StatusRecording, tasks.StatusCompleted,
		tasks.Patch{AudioPath: &path, Duration: &duration}); err != nil {
		perr := &PersistenceInconsistencyError{TaskID: s.taskID, AudioPath: path, Err: err}
		log.Error().Err(perr).Msg("recording stopped but task could not be completed")
		return nil, perr
	}

	c.lastPath = path
	log.Info().Str("task_id", s.taskID).Str("path", path).Float64("duration", duration).Msg("recording completed")
	c.publishTask(s.taskID, "completed")
	return &StopResult{TaskID: s.taskID, Path: path, Duration: duration}, nil
}

// Cancel closes the capture, deletes the file and returns the task to the queue.
func (c *Coordinator) Cancel(ctx context.Context) error {
	if !c.tryAcquire() {
		return ErrOperationInProgress
	}
	defer c.release()

	s := c.session
	if s == nil {
		return ErrNoActiveRecording
	}
	c.setState(StateCancelling, false)
	defer c.setState(StateIdle, true)

	close(s.release)
	if err := c.device.Close(s.handle); err != nil {
		log.Warn().Err(err).Str("task_id", s.taskID).Msg("capture did not close cleanly")
	}
	c.session = nil

	if err := c.discard(context.WithoutCancel(ctx), s); err != nil {
		return err
	}
	log.Info().Str("task_id", s.taskID).Msg("recording cancelled")
	return nil
}

// discard removes the session's file and puts its task back in the queue.
// A failed removal is only logged.
func (c *Coordinator) discard(ctx context.Context, s *session) error {
	path := s.handle.Path()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(fmt.Errorf("%w: %v", ErrFileCleanupFailed, err)).Str("path", path).Msg("discarded recording file left behind")
	}
	empty := ""
	if _, err := c.store.Transition(ctx, s.taskID, tasks.StatusRecording, tasks.StatusQueued,
		tasks.Patch{AudioPath: &empty}); err != nil {
		perr := &PersistenceInconsistencyError{TaskID: s.taskID, Err: err}
		log.Error().Err(perr).Msg("recording discarded but task could not be returned to queue")
		return perr
	}
	c.publishTask(s.taskID, "queued")
	return nil
}

// monitor finalises a session whose capture ends without Stop or Cancel.
func (c *Coordinator) monitor(s *session) {
	defer c.monitors.Done()

	select {
	case <-s.release:
		return
	case <-s.handle.Done():
	}

	// Wait behind any in-flight call, then check the session is still ours.
	if err := c.acquire(context.Background()); err != nil {
		return
	}
	defer c.release()
	if c.session != s {
		return
	}

	cause := s.handle.Err()
	log.Error().Err(cause).Str("task_id", s.taskID).Msg("capture ended unexpectedly")
	c.setState(StateStopping, false)

	endedAt := c.now()
	c.session = nil
	close(s.release)
	c.device.Close(s.handle)

	res, err := c.finalize(context.Background(), s, endedAt)
	if c.pub != nil {
		e := events.NewEvent(events.EventTaskChanged, events.SourceCoordinator)
		e.TaskID = s.taskID
		switch {
		case err != nil:
			e.Message = fmt.Sprintf("capture ended unexpectedly: %v", err)
		case res != nil:
			e.Message = "capture ended unexpectedly, recording saved to " + res.Path
		}
		c.pub.Publish(e)
	}
}

// Recover demotes a task left in the recording status by a previous run.
// The capture stream of that run is gone, so the row cannot be resumed.
// It returns the demoted task, or nil when there was nothing to repair.
func (c *Coordinator) Recover(ctx context.Context) (*tasks.Task, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	stale, err := c.store.FindRecording(ctx)
	if err != nil {
		return nil, fmt.Errorf("find leftover recording: %w", err)
	}
	if stale == nil {
		return nil, nil
	}
	if c.session != nil && c.session.taskID == stale.ID {
		return nil, nil
	}

	empty := ""
	t, err := c.store.Transition(ctx, stale.ID, tasks.StatusRecording, tasks.StatusQueued, tasks.Patch{AudioPath: &empty})
	if err != nil {
		return nil, fmt.Errorf("demote leftover recording %s: %w", stale.ID, err)
	}
	log.Warn().Str("task_id", t.ID).Str("title", t.Title).Msg("recovered interrupted recording, task returned to queue")
	c.setState(StateIdle, true)
	c.publishTask(t.ID, "queued")
	return t, nil
}

// Shutdown rejects new starts, waits for any in-flight call and stops an
// active recording gracefully so no task is left in the recording status.
func (c *Coordinator) Shutdown(ctx context.Context) (*StopResult, error) {
	c.closed.Store(true)
	if err := c.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for in-flight recording operation: %w", err)
	}

	var (
		res *StopResult
		err error
	)
	if s := c.session; s != nil {
		log.Info().Str("task_id", s.taskID).Msg("stopping active recording for shutdown")
		c.setState(StateStopping, false)
		res, err = c.stop(context.WithoutCancel(ctx), s)
	}
	c.release()
	c.monitors.Wait()
	return res, err
}
