// Package shortcut maps global key combinations to recording actions.
package shortcut

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

const dispatchTimeout = 15 * time.Second

var (
	ErrUnknownAction = errors.New("unknown shortcut action")
	ErrConflict      = errors.New("key combination already in use")
)

// Binding is one action's shortcut as shown to users
type Binding struct {
	Action      string `json:"action"`
	Key         string `json:"key"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	// Registered is false when the OS refused the combination
	Registered bool `json:"registered"`
}

// Update changes selected fields of a binding. Nil fields are kept.
type Update struct {
	Key         *string `json:"key,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Manager keeps the registered hotkeys in line with the configured bindings
// and forwards presses to the recording controller.
type Manager struct {
	mu         sync.Mutex
	reg        Registrar
	ctrl       recording.Controller
	pub        recording.Publisher
	configPath string
	bindings   []config.ShortcutConfig
	active     map[string]Combo // action -> registered combo
	started    bool
}

// NewManager creates a manager for bindings. configPath receives edits;
// an empty path keeps edits in memory only.
func NewManager(reg Registrar, ctrl recording.Controller, pub recording.Publisher, configPath string, bindings []config.ShortcutConfig) *Manager {
	return &Manager{
		reg:        reg,
		ctrl:       ctrl,
		pub:        pub,
		configPath: configPath,
		bindings:   append([]config.ShortcutConfig(nil), bindings...),
		active:     make(map[string]Combo),
	}
}

// Start registers every enabled binding. A binding the OS refuses is logged
// and skipped; the others stay active.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = true
	var errs []error
	for _, b := range m.bindings {
		if !b.Enabled {
			continue
		}
		if err := m.register(b); err != nil {
			log.Warn().Err(err).Str("action", b.Action).Str("key", b.Key).Msg("failed to register shortcut")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close unregisters every hotkey
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.unregisterAll()
}

func (m *Manager) unregisterAll() {
	for action, c := range m.active {
		if err := m.reg.Unregister(c); err != nil {
			log.Warn().Err(err).Str("key", c.String()).Msg("failed to unregister shortcut")
		}
		delete(m.active, action)
	}
}

func (m *Manager) register(b config.ShortcutConfig) error {
	c, err := ParseCombo(b.Key)
	if err != nil {
		return err
	}
	action := b.Action
	if err := m.reg.Register(c, func() { m.dispatch(action) }); err != nil {
		return err
	}
	m.active[action] = c
	log.Debug().Str("action", action).Str("key", c.String()).Msg("shortcut registered")
	return nil
}

func (m *Manager) unregister(action string) {
	c, ok := m.active[action]
	if !ok {
		return
	}
	if err := m.reg.Unregister(c); err != nil {
		log.Warn().Err(err).Str("key", c.String()).Msg("failed to unregister shortcut")
	}
	delete(m.active, action)
}

// List returns the bindings in configuration order
func (m *Manager) List() []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		_, registered := m.active[b.Action]
		out = append(out, Binding{
			Action:      b.Action,
			Key:         b.Key,
			Description: b.Description,
			Enabled:     b.Enabled,
			Registered:  registered,
		})
	}
	return out
}

// Update changes one binding. The new combination is validated against every
// other enabled binding before anything is touched; on conflict neither the
// registrations nor the stored configuration change.
func (m *Manager) Update(action string, u Update) (Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, b := range m.bindings {
		if b.Action == action {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Binding{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	old := m.bindings[idx]
	next := old
	if u.Key != nil {
		next.Key = *u.Key
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if u.Description != nil {
		next.Description = *u.Description
	}

	combo, err := ParseCombo(next.Key)
	if err != nil {
		return Binding{}, err
	}
	next.Key = combo.String()
	if next.Enabled {
		for i, b := range m.bindings {
			if i == idx || !b.Enabled {
				continue
			}
			if Canonical(b.Key) == next.Key {
				return Binding{}, fmt.Errorf("%w: %s is bound to %s", ErrConflict, next.Key, b.Action)
			}
		}
	}

	candidate := append([]config.ShortcutConfig(nil), m.bindings...)
	candidate[idx] = next
	if err := config.ValidateShortcuts(candidate); err != nil {
		return Binding{}, err
	}

	_, wasActive := m.active[action]
	m.unregister(action)
	if next.Enabled && m.started {
		if err := m.register(next); err != nil {
			if wasActive {
				if rerr := m.register(old); rerr != nil {
					log.Error().Err(rerr).Str("action", action).Msg("failed to restore previous shortcut")
				}
			}
			return Binding{}, fmt.Errorf("register %s: %w", next.Key, err)
		}
	}

	if m.configPath != "" {
		if err := config.SaveShortcuts(m.configPath, candidate); err != nil {
			m.unregister(action)
			if wasActive {
				if rerr := m.register(old); rerr != nil {
					log.Error().Err(rerr).Str("action", action).Msg("failed to restore previous shortcut")
				}
			}
			return Binding{}, fmt.Errorf("save shortcuts: %w", err)
		}
	}

	m.bindings = candidate
	log.Info().Str("action", action).Str("key", next.Key).Bool("enabled", next.Enabled).Msg("shortcut updated")
	m.publishChanged()

	_, registered := m.active[action]
	return Binding{Action: next.Action, Key: next.Key, Description: next.Description, Enabled: next.Enabled, Registered: registered}, nil
}

// SetEnabled turns one binding on or off
func (m *Manager) SetEnabled(action string, enabled bool) (Binding, error) {
	return m.Update(action, Update{Enabled: &enabled})
}

// Reset restores the default bindings
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaults := config.DefaultShortcuts()
	if m.configPath != "" {
		if err := config.SaveShortcuts(m.configPath, defaults); err != nil {
			return fmt.Errorf("save shortcuts: %w", err)
		}
	}

	m.unregisterAll()
	m.bindings = defaults
	var errs []error
	for _, b := range m.bindings {
		if b.Enabled && m.started {
			if err := m.register(b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.publishChanged()
	return errors.Join(errs...)
}

func (m *Manager) publishChanged() {
	if m.pub != nil {
		m.pub.Publish(events.NewEvent(events.EventShortcutsChanged, events.SourceShortcuts))
	}
}

// dispatch runs the action bound to a pressed hotkey. Errors stay here:
// a hotkey has nothing to show them on, and benign races are expected.
func (m *Manager) dispatch(action string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	var err error
	switch action {
	case config.ActionStart:
		_, err = m.ctrl.Start(ctx, recording.StartRequest{})
	case config.ActionStop:
		_, err = m.ctrl.Stop(ctx)
	case config.ActionCancel:
		err = m.ctrl.Cancel(ctx)
	case config.ActionToggle:
		if m.ctrl.Status().IsRecording {
			_, err = m.ctrl.Stop(ctx)
		} else {
			_, err = m.ctrl.Start(ctx, recording.StartRequest{})
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	switch {
	case err == nil:
		log.Debug().Str("action", action).Msg("shortcut handled")
	case recording.IsBenign(err), errors.Is(err, recording.ErrOperationInProgress):
		log.Debug().Err(err).Str("action", action).Msg("shortcut ignored")
	default:
		log.Warn().Err(err).Str("action", action).Msg("shortcut action failed")
	}
}
