package recording

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording is returned by Start while another recording is active.
	ErrAlreadyRecording = errors.New("a recording is already active")
	// ErrOperationInProgress is returned when a call overlaps another in-flight
	// start, stop or cancel. It is transient; callers should not retry at once.
	ErrOperationInProgress = errors.New("another recording operation is in progress")
	// ErrNoActiveRecording is returned by Stop and Cancel with nothing recording.
	// Duplicate triggers produce it routinely; it is not a failure worth alerting on.
	ErrNoActiveRecording = errors.New("no active recording")
	// ErrCaptureStartFailed wraps the capture device error of a failed Start.
	ErrCaptureStartFailed = errors.New("capture failed to start")
	// ErrPersistenceInconsistency marks a capture that stopped while its task
	// row could not be updated to match.
	ErrPersistenceInconsistency = errors.New("recording state could not be persisted")
	// ErrFileCleanupFailed is logged when a discarded recording file cannot be removed.
	ErrFileCleanupFailed = errors.New("failed to remove recording file")
	// ErrNoAudio is returned by Stop when the capture left no file or one
	// smaller than audio.MinRecordingSize. The task is returned to the queue.
	ErrNoAudio = errors.New("recording produced no usable audio")
	// ErrTaskNotQueued is returned when Start targets a task that is not queued.
	ErrTaskNotQueued = errors.New("task is not queued")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("recording coordinator is shutting down")
)

// PersistenceInconsistencyError carries the task and file left out of sync.
// The capture is already stopped; AudioPath may exist on disk without a task
// row pointing at it.
type PersistenceInconsistencyError struct {
	TaskID    string
	AudioPath string
	Err       error
}

func (e *PersistenceInconsistencyError) Error() string {
	if e.AudioPath != "" {
		return fmt.Sprintf("%v: task %s, file %s: %v", ErrPersistenceInconsistency, e.TaskID, e.AudioPath, e.Err)
	}
	return fmt.Sprintf("%v: task %s: %v", ErrPersistenceInconsistency, e.TaskID, e.Err)
}

func (e *PersistenceInconsistencyError) Unwrap() error { return e.Err }

func (e *PersistenceInconsistencyError) Is(target error) bool {
	return target == ErrPersistenceInconsistency
}

// IsBenign reports whether err is an expected outcome of racing triggers
// that callers should log at most.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNoActiveRecording)
}
