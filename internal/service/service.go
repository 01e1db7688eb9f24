package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/play"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/shortcut"
	"github.com/audiolibrelab/memocapture/internal/tasks"
	"github.com/audiolibrelab/memocapture/internal/tray"
)

var (
	ErrNoAudioFile     = tasks.ErrNoAudioFile
	ErrInvalidSettings = config.ErrInvalidSettings
)

// Service represents the core memocapture service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, req recording.StartRequest) (*recording.StartResult, error)
	StopRecording(ctx context.Context) (*recording.StopResult, error)
	CancelRecording(ctx context.Context) error
	GetRecordingStatus() recording.Status

	// Task operations
	CreateTask(ctx context.Context, title string, status tasks.Status) (*tasks.Task, error)
	GetTask(ctx context.Context, id string) (*tasks.Task, error)
	UpdateTask(ctx context.Context, id string, patch tasks.Patch) (*tasks.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, status tasks.Status) ([]*tasks.Task, error)
	GetCurrentRecording(ctx context.Context) (*tasks.Task, error)
	OpenTask(ctx context.Context, id string) error
	PlayTask(ctx context.Context, id string) error

	// Shortcut operations
	ListShortcuts() []shortcut.Binding
	UpdateShortcut(action string, u shortcut.Update) (shortcut.Binding, error)
	ResetShortcuts() error

	// Configuration operations
	GetConfig() *config.Config
	UpdateAudioConfig(a config.AudioConfig) error

	// Information operations
	RecentEvents(limit int) []events.Event
	GetLastError() string

	// Lifecycle
	Quit()
	Done() <-chan struct{}
}

// Options selects the collaborators New builds. Zero values pick the real ones.
type Options struct {
	Store     tasks.Store
	Device    audio.CaptureDevice
	Registrar shortcut.Registrar
	// NewDevice builds the capture device for an audio config change
	NewDevice func(config.AudioConfig) (audio.CaptureDevice, error)
	// Hotkeys registers the global shortcuts on Start
	Hotkeys bool
	// Tray shows the tray icon on Start when the config enables it
	Tray bool
}

// MemoService is the main service implementation
type MemoService struct {
	cfgMu      sync.RWMutex
	cfg        *config.Config
	configFile string

	store     tasks.Store
	lock      *ownerLock
	device    audio.CaptureDevice
	newDevice func(config.AudioConfig) (audio.CaptureDevice, error)
	bus       *events.Bus
	coord     *recording.Coordinator
	shortcuts *shortcut.Manager
	player    *play.Player
	tray      *tray.Tray
	opts      Options

	closersMu sync.Mutex
	closers   []func(context.Context) error

	quit         chan struct{}
	quitOnce     sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
	unsubscribe  func()

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*MemoService)(nil)

// New creates a memocapture service instance
func New(cfg *config.Config, configFile string, opts Options) (*MemoService, error) {
	store := opts.Store
	var lock *ownerLock
	if store == nil {
		var err error
		if store, err = tasks.Open(cfg.Storage.Database); err != nil {
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
		if lock, err = acquireOwnerLock(cfg.Storage.Database); err != nil {
			store.Close()
			return nil, err
		}
	}

	newDevice := opts.NewDevice
	if newDevice == nil {
		newDevice = audio.New
	}
	device := opts.Device
	if device == nil {
		var err error
		if device, err = newDevice(cfg.Audio); err != nil {
			if opts.Store == nil {
				store.Close()
				lock.Release()
			}
			return nil, fmt.Errorf("failed to create capture device: %w", err)
		}
	}

	registrar := opts.Registrar
	if registrar == nil {
		registrar = shortcut.NewSystemRegistrar()
	}

	bus := events.NewBus(128)
	s := &MemoService{
		cfg:        cfg,
		configFile: configFile,
		store:      store,
		lock:       lock,
		device:     device,
		newDevice:  newDevice,
		bus:        bus,
		player:     play.New(),
		opts:       opts,
		quit:       make(chan struct{}),
	}
	s.coord = recording.New(store, device, bus, coordinatorOptions(cfg))
	s.shortcuts = shortcut.NewManager(registrar, s.coord, bus, configFile, cfg.Shortcuts)

	// The monitor reports captures that die on their own through the bus
	s.unsubscribe = bus.Subscribe(func(e events.Event) {
		if strings.HasPrefix(e.Message, "capture ended unexpectedly:") {
			s.setLastError(e.Message)
		}
	}, events.EventTaskChanged)

	return s, nil
}

func coordinatorOptions(cfg *config.Config) recording.Options {
	return recording.Options{
		OutputDir:    cfg.Output.Directory,
		Params:       audio.ParamsFrom(cfg.Audio),
		StartTimeout: cfg.Audio.StartTimeout,
	}
}

// Bus exposes the event bus for the server and other presentation layers
func (s *MemoService) Bus() *events.Bus { return s.bus }

// Coordinator exposes the recording coordinator
func (s *MemoService) Coordinator() *recording.Coordinator { return s.coord }

// Start repairs leftovers from a previous run, then brings up the trigger
// sources selected in Options.
func (s *MemoService) Start(ctx context.Context) error {
	log.Debug().Msg("Service.Start called")
	recovered, err := s.coord.Recover(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery failed: %w", err)
	}
	if recovered != nil {
		log.Warn().Str("task_id", recovered.ID).Msg("a recording was interrupted by the previous shutdown")
	}

	if s.opts.Hotkeys {
		if err := s.shortcuts.Start(); err != nil {
			log.Warn().Err(err).Msg("some shortcuts could not be registered")
			s.setLastError(fmt.Sprintf("Some shortcuts could not be registered: %v", err))
		}
	}

	cfg := s.GetConfig()
	if s.opts.Tray && cfg.UI.Tray {
		s.tray = tray.New(s.coord, s.bus, tray.Actions{
			OpenFolder: func() error { return s.player.Open(cfg.Output.Directory) },
			Quit:       s.Quit,
		})
		s.tray.Start()
	}
	return nil
}

// OnShutdown registers a presentation-layer teardown. Closers run after the
// active recording has been stopped and its task settled.
func (s *MemoService) OnShutdown(fn func(context.Context) error) {
	s.closersMu.Lock()
	s.closers = append(s.closers, fn)
	s.closersMu.Unlock()
}

// Shutdown tears the service down in a fixed order: capture, then the task
// record, then the trigger sources and windows, then storage.
func (s *MemoService) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		log.Info().Msg("shutting down")
		var errs []error

		res, err := s.coord.Shutdown(ctx)
		if err != nil {
			log.Error().Err(err).Msg("active recording could not be finalised")
			errs = append(errs, err)
		} else if res != nil {
			log.Info().Str("task_id", res.TaskID).Str("path", res.Path).Msg("active recording saved before exit")
		}

		if s.tray != nil {
			s.tray.Stop()
		}
		s.shortcuts.Close()

		s.closersMu.Lock()
		closers := append([]func(context.Context) error(nil), s.closers...)
		s.closersMu.Unlock()
		for _, fn := range closers {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		s.unsubscribe()
		s.bus.Close()
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close task store: %w", err))
		}
		if err := s.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		if nd, ok := s.device.(*audio.NativeDevice); ok {
			nd.Release()
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// Quit asks the process to exit. The caller waiting on Done runs Shutdown.
func (s *MemoService) Quit() {
	s.quitOnce.Do(func() {
		log.Info().Msg("quit requested")
		s.bus.Publish(events.NewEvent(events.EventAppQuit, events.SourceService))
		close(s.quit)
	})
}

func (s *MemoService) Done() <-chan struct{} { return s.quit }

// StartRecording starts a new recording, or records into an existing queued task
func (s *MemoService) StartRecording(ctx context.Context, req recording.StartRequest) (*recording.StartResult, error) {
	log.Debug().Str("title", req.Title).Str("task_id", req.TaskID).Msg("Service.StartRecording called")
	s.clearLastError()
	res, err := s.coord.Start(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("Service.StartRecording failed")
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}
	return res, nil
}

// StopRecording stops the active recording and completes its task
func (s *MemoService) StopRecording(ctx context.Context) (*recording.StopResult, error) {
	log.Debug().Msg("Service.StopRecording called")
	res, err := s.coord.Stop(ctx)
	switch {
	case err == nil:
		s.clearLastError()
	case recording.IsBenign(err):
		log.Debug().Err(err).Msg("Service.StopRecording ignored")
	default:
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
	}
	return res, err
}

// CancelRecording discards the active recording
func (s *MemoService) CancelRecording(ctx context.Context) error {
	log.Debug().Msg("Service.CancelRecording called")
	err := s.coord.Cancel(ctx)
	switch {
	case err == nil:
		s.clearLastError()
	case recording.IsBenign(err):
		log.Debug().Err(err).Msg("Service.CancelRecording ignored")
	default:
		s.setLastError(fmt.Sprintf("Failed to cancel recording: %v", err))
	}
	return err
}

func (s *MemoService) GetRecordingStatus() recording.Status {
	return s.coord.Status()
}

func (s *MemoService) CreateTask(ctx context.Context, title string, status tasks.Status) (*tasks.Task, error) {
	t, err := s.store.Create(ctx, title, status)
	if err != nil {
		return nil, err
	}
	s.publishTask(t.ID, "created")
	return t, nil
}

func (s *MemoService) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	return s.store.Get(ctx, id)
}

// UpdateTask applies a partial update and returns the updated task. The
// recording task is refused by the store.
func (s *MemoService) UpdateTask(ctx context.Context, id string, patch tasks.Patch) (*tasks.Task, error) {
	if err := s.store.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	s.publishTask(id, "updated")
	return s.store.Get(ctx, id)
}

func (s *MemoService) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.publishTask(id, "deleted")
	return nil
}

// ListTasks returns tasks newest first, all of them when status is empty
func (s *MemoService) ListTasks(ctx context.Context, status tasks.Status) ([]*tasks.Task, error) {
	if status == "" {
		return s.store.List(ctx)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", tasks.ErrInvalidStatus, status)
	}
	return s.store.ListByStatus(ctx, status)
}

// GetCurrentRecording returns the task being recorded, or nil
func (s *MemoService) GetCurrentRecording(ctx context.Context) (*tasks.Task, error) {
	return s.store.FindRecording(ctx)
}

func (s *MemoService) OpenTask(ctx context.Context, id string) error {
	path, err := s.audioPath(ctx, id)
	if err != nil {
		return err
	}
	return s.player.Open(path)
}

func (s *MemoService) PlayTask(ctx context.Context, id string) error {
	path, err := s.audioPath(ctx, id)
	if err != nil {
		return err
	}
	return s.player.Spawn(path)
}

func (s *MemoService) audioPath(ctx context.Context, id string) (string, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if t.AudioPath == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAudioFile, id)
	}
	return t.AudioPath, nil
}

func (s *MemoService) publishTask(id, msg string) {
	e := events.NewEvent(events.EventTaskChanged, events.SourceStore)
	e.TaskID = id
	e.Message = msg
	s.bus.Publish(e)
}

func (s *MemoService) ListShortcuts() []shortcut.Binding {
	return s.shortcuts.List()
}

func (s *MemoService) UpdateShortcut(action string, u shortcut.Update) (shortcut.Binding, error) {
	b, err := s.shortcuts.Update(action, u)
	if err != nil {
		return shortcut.Binding{}, err
	}
	s.syncShortcutConfig()
	return b, nil
}

func (s *MemoService) ResetShortcuts() error {
	err := s.shortcuts.Reset()
	s.syncShortcutConfig()
	return err
}

func (s *MemoService) syncShortcutConfig() {
	list := s.shortcuts.List()
	sc := make([]config.ShortcutConfig, 0, len(list))
	for _, b := range list {
		sc = append(sc, config.ShortcutConfig{Action: b.Action, Key: b.Key, Description: b.Description, Enabled: b.Enabled})
	}
	s.cfgMu.Lock()
	s.cfg.Shortcuts = sc
	s.cfgMu.Unlock()
}

// GetConfig returns a copy of the current configuration
func (s *MemoService) GetConfig() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	cfg := *s.cfg
	cfg.Shortcuts = append([]config.ShortcutConfig(nil), s.cfg.Shortcuts...)
	return &cfg
}

// UpdateAudioConfig switches capture settings. It is refused while recording.
func (s *MemoService) UpdateAudioConfig(a config.AudioConfig) error {
	log.Debug().Str("backend", a.Backend).Int("sample_rate", a.SampleRate).Msg("Service.UpdateAudioConfig called")
	if err := config.ValidateAudio(a, "audio"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.coord.Status().IsRecording {
		return fmt.Errorf("cannot change audio settings: %w", recording.ErrAlreadyRecording)
	}

	device, err := s.newDevice(a)
	if err != nil {
		return fmt.Errorf("failed to create capture device: %w", err)
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	prev := s.cfg.Audio
	if s.configFile != "" {
		if err := config.SaveAudio(s.configFile, a); err != nil {
			releaseDevice(device)
			return fmt.Errorf("failed to save audio settings: %w", err)
		}
	}
	next := *s.cfg
	next.Audio = a
	if err := s.coord.Reconfigure(device, coordinatorOptions(&next)); err != nil {
		releaseDevice(device)
		if s.configFile != "" {
			if rerr := config.SaveAudio(s.configFile, prev); rerr != nil {
				log.Error().Err(rerr).Msg("Failed to restore previous audio settings")
			}
		}
		return err
	}
	if s.device != device {
		releaseDevice(s.device)
	}
	s.device = device
	s.cfg.Audio = a
	return nil
}

func releaseDevice(d audio.CaptureDevice) {
	if n, ok := d.(*audio.NativeDevice); ok {
		n.Release()
	}
}

func (s *MemoService) RecentEvents(limit int) []events.Event {
	return s.bus.History(limit)
}

// GetLastError returns the last error message
func (s *MemoService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *MemoService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *MemoService) clearLastError() {
	s.setLastError("")
}
