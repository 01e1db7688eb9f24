package tasks

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a recording task
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRecording, StatusCompleted:
		return true
	}
	return false
}

var (
	ErrNotFound = errors.New("task not found")
	// ErrTaskRecording is returned when something other than the coordinator
	// tries to mutate or delete the row that is currently recording.
	ErrTaskRecording = errors.New("task is currently recording")
	// ErrRecordingExists is returned when a second row would enter the recording status.
	ErrRecordingExists = errors.New("another task is already recording")
	// ErrConflict is returned when a conditional transition finds the row in an unexpected status.
	ErrConflict       = errors.New("task status changed concurrently")
	ErrInvalidStatus  = errors.New("invalid task status")
	ErrIllegalTransit = errors.New("illegal status transition")
	// ErrReadOnlyField is returned when Update tries to set audioPath or
	// duration, which only recording transitions write.
	ErrReadOnlyField = errors.New("field is written only by recording transitions")
	// ErrNoAudioFile is returned when a task has no recording to open or play
	ErrNoAudioFile = errors.New("task has no audio file")
)

// Task is one recording attempt or memo
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AudioPath string    `json:"audioPath,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
}

// Patch holds the fields to change on a task. Nil fields are left untouched.
type Patch struct {
	Title     *string  `json:"title,omitempty"`
	Status    *Status  `json:"status,omitempty"`
	AudioPath *string  `json:"audioPath,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.AudioPath == nil && p.Duration == nil
}

// Store is the durable task repository.
//
// Update and Delete are the general-purpose mutators and refuse to touch the
// row that is recording. Transition is the conditional update used by the
// recording coordinator to move rows in and out of the recording status.
type Store interface {
	Create(ctx context.Context, title string, status Status) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	ListByStatus(ctx context.Context, status Status) ([]*Task, error)
	Update(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
	FindRecording(ctx context.Context) (*Task, error)
	Transition(ctx context.Context, id string, from, to Status, fields Patch) (*Task, error)
	Close() error
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusRecording: {},
	},
	StatusRecording: {
		StatusCompleted: {},
		StatusQueued:    {}, // cancel, failed start, crash recovery
	},
}

func canTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
