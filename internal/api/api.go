// Package api holds the HTTP wire types shared by the server and its clients.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/shortcut"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

// Response is the envelope of every JSON endpoint
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	TaskID   string  `json:"taskId,omitempty"`
	Path     string  `json:"path,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Status    *events.RecordingStatus `json:"status,omitempty"`
	LastError string                  `json:"lastError,omitempty"`

	Task       *tasks.Task   `json:"task,omitempty"`
	Tasks      []*tasks.Task `json:"tasks,omitempty"`
	TotalCount int           `json:"total_count,omitempty"`

	Shortcuts []shortcut.Binding `json:"shortcuts,omitempty"`
	Shortcut  *shortcut.Binding  `json:"shortcut,omitempty"`

	Audio    *AudioSettings        `json:"audio,omitempty"`
	Backends []audio.BackendStatus `json:"backends,omitempty"`

	Events []events.Event `json:"events,omitempty"`
}

// StartRequest is the optional body of POST /api/recording/start
type StartRequest struct {
	Title  string `json:"title,omitempty"`
	TaskID string `json:"taskId,omitempty"`
}

// CreateTaskRequest is the body of POST /api/tasks
type CreateTaskRequest struct {
	Title  string       `json:"title"`
	Status tasks.Status `json:"status,omitempty"`
}

// AudioSettings is the JSON form of the audio section
type AudioSettings struct {
	Backend      string `json:"backend"`
	Program      string `json:"program,omitempty"`
	Device       string `json:"device,omitempty"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	Format       string `json:"format"`
	StartTimeout string `json:"start_timeout"`
}

func AudioSettingsFrom(a config.AudioConfig) *AudioSettings {
	return &AudioSettings{
		Backend:      a.Backend,
		Program:      a.Program,
		Device:       a.Device,
		SampleRate:   a.SampleRate,
		Channels:     a.Channels,
		Format:       a.Format,
		StartTimeout: a.StartTimeout.String(),
	}
}

// Config converts the settings back, parsing start_timeout as a duration
func (s AudioSettings) Config() (config.AudioConfig, error) {
	timeout, err := time.ParseDuration(s.StartTimeout)
	if err != nil {
		return config.AudioConfig{}, fmt.Errorf("invalid start_timeout %q: %w", s.StartTimeout, err)
	}
	return config.AudioConfig{
		Backend:      s.Backend,
		Program:      s.Program,
		Device:       s.Device,
		SampleRate:   s.SampleRate,
		Channels:     s.Channels,
		Format:       s.Format,
		StartTimeout: timeout,
	}, nil
}

type errorClass struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorClasses = []errorClass{
	{recording.ErrShuttingDown, http.StatusServiceUnavailable, "shutting_down"},
	{recording.ErrPersistenceInconsistency, http.StatusInternalServerError, "persistence_inconsistency"},
	{recording.ErrCaptureStartFailed, http.StatusInternalServerError, "capture_start_failed"},
	{recording.ErrAlreadyRecording, http.StatusConflict, "already_recording"},
	{recording.ErrOperationInProgress, http.StatusConflict, "operation_in_progress"},
	{recording.ErrNoActiveRecording, http.StatusConflict, "no_active_recording"},
	{recording.ErrNoAudio, http.StatusUnprocessableEntity, "no_audio"},
	{recording.ErrTaskNotQueued, http.StatusConflict, "task_not_queued"},
	{recording.ErrFileCleanupFailed, http.StatusInternalServerError, "file_cleanup_failed"},
	{tasks.ErrNotFound, http.StatusNotFound, "task_not_found"},
	{tasks.ErrTaskRecording, http.StatusConflict, "task_recording"},
	{tasks.ErrRecordingExists, http.StatusConflict, "already_recording"},
	{tasks.ErrConflict, http.StatusConflict, "task_conflict"},
	{tasks.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{tasks.ErrIllegalTransit, http.StatusConflict, "illegal_transition"},
	{tasks.ErrReadOnlyField, http.StatusBadRequest, "read_only_field"},
	{tasks.ErrNoAudioFile, http.StatusNotFound, "no_audio_file"},
	{config.ErrInvalidSettings, http.StatusBadRequest, "invalid_settings"},
	{shortcut.ErrUnknownAction, http.StatusNotFound, "unknown_action"},
	{shortcut.ErrConflict, http.StatusConflict, "shortcut_conflict"},
	{shortcut.ErrInvalidKey, http.StatusBadRequest, "invalid_key"},
}

// Classify maps an error to its HTTP status and wire code
func Classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// ErrorForCode returns the sentinel error behind a wire code, or nil
func ErrorForCode(code string) error {
	for _, c := range errorClasses {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
