package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/api"
	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"
	"github.com/audiolibrelab/memocapture/internal/shortcut"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

// Server exposes the service over HTTP and pushes events over WebSocket
type Server struct {
	service    service.Service
	bus        *events.Bus
	hub        *Hub
	addr       string
	httpServer *http.Server
}

func New(svc service.Service, bus *events.Bus, addr string) *Server {
	s := &Server{
		service: svc,
		bus:     bus,
		addr:    addr,
		hub:     NewHub(bus, svc.GetRecordingStatus),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, api.Response{Error: "Method not allowed"})
	})

	r.Get("/", s.handleIndex)
	r.Get("/api/health", s.handleHealth)

	r.Post("/api/recording/start", s.handleStartRecording)
	r.Post("/api/recording/stop", s.handleStopRecording)
	r.Post("/api/recording/cancel", s.handleCancelRecording)
	r.Get("/api/recording/status", s.handleStatus)

	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleCreateTask)
	r.Get("/api/tasks/current", s.handleCurrentTask)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Patch("/api/tasks/{id}", s.handleUpdateTask)
	r.Delete("/api/tasks/{id}", s.handleDeleteTask)
	r.Post("/api/tasks/{id}/open", s.handleOpenTask)
	r.Post("/api/tasks/{id}/play", s.handlePlayTask)
	r.Get("/api/tasks/{id}/audio", s.handleTaskAudio)

	r.Get("/api/shortcuts", s.handleListShortcuts)
	r.Put("/api/shortcuts/{action}", s.handleUpdateShortcut)
	r.Post("/api/shortcuts/reset", s.handleResetShortcuts)

	r.Get("/api/audio", s.handleGetAudio)
	r.Put("/api/audio", s.handleUpdateAudio)

	r.Get("/api/events", s.handleEvents)
	r.Get("/api/ws", s.hub.ServeWS)
	r.Post("/api/app/quit", s.handleQuit)
	return r
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens on the configured address and blocks until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("url", "http://"+ln.Addr().String()).
		Msg("Starting memocapture server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket clients and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "ok"})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if !decodeOptional(w, r, &req, s) {
		return
	}
	log.Debug().Str("title", req.Title).Str("task_id", req.TaskID).Msg("Start request received")

	res, err := s.service.StartRecording(r.Context(), recording.StartRequest{Title: req.Title, TaskID: req.TaskID})
	if err != nil {
		s.sendServiceError(w, err, "Failed to start recording", "operation", "start_recording")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Message: "Recording started",
		TaskID:  res.TaskID,
		Path:    res.Path,
	})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "Failed to stop recording", "operation", "stop_recording")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{
		Success:  true,
		Message:  "Recording stopped",
		TaskID:   res.TaskID,
		Path:     res.Path,
		Duration: res.Duration,
	})
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "Failed to cancel recording", "operation", "cancel_recording")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "Recording cancelled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.service.GetRecordingStatus()
	writeJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Status:    &st,
		TaskID:    st.ActiveTaskID,
		LastError: s.service.GetLastError(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := tasks.Status(r.URL.Query().Get("status"))
	list, err := s.service.ListTasks(r.Context(), status)
	if err != nil {
		s.sendServiceError(w, err, "Failed to list tasks", "status", status)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Tasks: list, TotalCount: len(list)})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "operation", "create_task")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Title is required", "operation", "create_task")
		return
	}
	if req.Status == "" {
		req.Status = tasks.StatusQueued
	}
	if req.Status == tasks.StatusRecording {
		s.sendErrorResponse(w, http.StatusBadRequest, "Tasks enter the recording status through /api/recording/start")
		return
	}
	t, err := s.service.CreateTask(r.Context(), req.Title, req.Status)
	if err != nil {
		s.sendServiceError(w, err, "Failed to create task", "operation", "create_task")
		return
	}
	writeJSON(w, http.StatusCreated, api.Response{Success: true, TaskID: t.ID, Task: t})
}

func (s *Server) handleCurrentTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetCurrentRecording(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "Failed to find current recording")
		return
	}
	resp := api.Response{Success: true, Task: t}
	if t != nil {
		resp.TaskID = t.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.service.GetTask(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err, "Failed to get task", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, TaskID: t.ID, Task: t})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch tasks.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "task_id", id)
		return
	}
	t, err := s.service.UpdateTask(r.Context(), id, patch)
	if err != nil {
		s.sendServiceError(w, err, "Failed to update task", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, TaskID: t.ID, Task: t})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.DeleteTask(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "Failed to delete task", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, TaskID: id, Message: "Task deleted"})
}

func (s *Server) handleOpenTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.OpenTask(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "Failed to open recording", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, TaskID: id})
}

func (s *Server) handlePlayTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.PlayTask(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "Failed to play recording", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, TaskID: id})
}

// handleTaskAudio streams a task's recording with range support
func (s *Server) handleTaskAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.service.GetTask(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err, "Failed to get task", "task_id", id)
		return
	}
	if t.Status == tasks.StatusRecording || t.AudioPath == "" {
		s.sendErrorResponse(w, http.StatusNotFound, "Task has no finished recording", "task_id", id)
		return
	}

	file, err := os.Open(t.AudioPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.sendErrorResponse(w, http.StatusNotFound, "File not found", "path", t.AudioPath)
		} else {
			s.sendErrorResponse(w, http.StatusInternalServerError, "Error opening file", "path", t.AudioPath, "error", err.Error())
		}
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error accessing file", "path", t.AudioPath)
		return
	}

	name := filepath.Base(t.AudioPath)
	w.Header().Set("Content-Type", audioContentType(name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	log.Debug().Str("task_id", id).Str("size", formatBytes(info.Size())).Msg("streaming recording")
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func audioContentType(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

func (s *Server) handleListShortcuts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Response{Success: true, Shortcuts: s.service.ListShortcuts()})
}

func (s *Server) handleUpdateShortcut(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	var u shortcut.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "action", action)
		return
	}
	b, err := s.service.UpdateShortcut(action, u)
	if err != nil {
		s.sendServiceError(w, err, "Failed to update shortcut", "action", action)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Shortcut: &b})
}

func (s *Server) handleResetShortcuts(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResetShortcuts(); err != nil {
		s.sendServiceError(w, err, "Failed to reset shortcuts")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Shortcuts: s.service.ListShortcuts()})
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Response{
		Success:  true,
		Audio:    api.AudioSettingsFrom(s.service.GetConfig().Audio),
		Backends: audio.GetAvailableBackends(),
	})
}

func (s *Server) handleUpdateAudio(w http.ResponseWriter, r *http.Request) {
	var req api.AudioSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "operation", "update_audio")
		return
	}
	a, err := req.Config()
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "update_audio")
		return
	}
	if err := s.service.UpdateAudioConfig(a); err != nil {
		s.sendServiceError(w, err, "Failed to update audio settings", "operation", "update_audio")
		return
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Audio: api.AudioSettingsFrom(a)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, api.Response{Success: true, Events: s.service.RecentEvents(limit)})
}

// handleQuit asks the process to exit. Shutdown runs after the response is sent.
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Response{Success: true, Message: "Shutting down"})
	go s.service.Quit()
}

// decodeOptional decodes a JSON body when one is present
func decodeOptional(w http.ResponseWriter, r *http.Request, v any, s *Server) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w http.ResponseWriter, statusCode int, resp api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// sendServiceError classifies a service error into status code and wire code
func (s *Server) sendServiceError(w http.ResponseWriter, err error, prefix string, logContext ...interface{}) {
	status, code := api.Classify(err)
	logEvent := log.Warn()
	if status >= http.StatusInternalServerError {
		logEvent = log.Error()
	}
	logEvent.Err(err).Int("status_code", status).Str("code", code).Fields(logContext).Msg(prefix)
	writeJSON(w, status, api.Response{
		Error: fmt.Sprintf("%s: %v", prefix, err),
		Code:  code,
	})
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	log.Error().
		Str("error_message", errorMsg).
		Int("status_code", statusCode).
		Fields(logContext).
		Msg("Sending error response to client")
	writeJSON(w, statusCode, api.Response{Error: errorMsg})
}
