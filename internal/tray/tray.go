package tray

import (
	"context"
	"errors"
	"sync"
	"time"

	"fyne.io/systray"
	"github.com/atotto/clipboard"
	"github.com/rs/zerolog/log"
	"golang.design/x/hotkey/mainthread"

	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

const actionTimeout = 15 * time.Second

// Subscriber is the part of the event bus the tray listens on
type Subscriber interface {
	Subscribe(handler events.Subscriber, eventTypes ...events.EventType) func()
}

// Actions are the non-recording menu entries
type Actions struct {
	OpenFolder func() error
	Quit       func()
}

// Tray shows recording controls in the system tray
type Tray struct {
	ctrl    recording.Controller
	bus     Subscriber
	actions Actions

	mu       sync.Mutex
	last     recording.Status
	items    *menuItems
	unsub    func()
	end      func()
	stopTick chan struct{}
}

type menuItems struct {
	status *systray.MenuItem
	start  *systray.MenuItem
	stop   *systray.MenuItem
	cancel *systray.MenuItem
	copy   *systray.MenuItem
	folder *systray.MenuItem
	quit   *systray.MenuItem
}

func New(ctrl recording.Controller, bus Subscriber, actions Actions) *Tray {
	return &Tray{ctrl: ctrl, bus: bus, actions: actions, last: ctrl.Status()}
}

// Start shows the tray icon. The native loop is started on the main thread.
func (t *Tray) Start() {
	start, end := systray.RunWithExternalLoop(t.onReady, t.onExit)
	t.end = end
	done := make(chan struct{})
	mainthread.Call(func() {
		start()
		close(done)
	})
	<-done
}

// Stop removes the tray icon
func (t *Tray) Stop() {
	t.mu.Lock()
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	if t.stopTick != nil {
		close(t.stopTick)
		t.stopTick = nil
	}
	t.mu.Unlock()
	if t.end != nil {
		t.end()
	}
}

func (t *Tray) onReady() {
	systray.SetTitle("memocapture")
	items := &menuItems{
		status: systray.AddMenuItem("Idle", "Recording status"),
		start:  systray.AddMenuItem("Start Recording", "Start a new voice memo"),
		stop:   systray.AddMenuItem("Stop Recording", "Stop and save the memo"),
		cancel: systray.AddMenuItem("Cancel Recording", "Stop and discard the memo"),
	}
	items.status.Disable()
	systray.AddSeparator()
	items.copy = systray.AddMenuItem("Copy Last Recording Path", "Copy the path of the last saved memo")
	items.folder = systray.AddMenuItem("Open Recordings Folder", "Show recordings in the file manager")
	systray.AddSeparator()
	items.quit = systray.AddMenuItem("Quit", "Stop any recording and quit")

	t.mu.Lock()
	t.items = items
	t.stopTick = make(chan struct{})
	stopTick := t.stopTick
	t.unsub = t.bus.Subscribe(func(e events.Event) {
		if e.Status != nil {
			t.render(*e.Status)
		}
	}, events.EventStatusChanged)
	t.mu.Unlock()

	t.render(t.ctrl.Status())
	go t.loop(items, stopTick)
}

func (t *Tray) onExit() {
	log.Debug().Msg("tray exited")
}

func (t *Tray) loop(items *menuItems, stop chan struct{}) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			// refresh the elapsed time
			t.mu.Lock()
			st := t.last
			t.mu.Unlock()
			if st.IsRecording {
				t.render(st)
			}
		case <-items.start.ClickedCh:
			t.run("start", func(ctx context.Context) error {
				_, err := t.ctrl.Start(ctx, recording.StartRequest{})
				return err
			})
		case <-items.stop.ClickedCh:
			t.run("stop", func(ctx context.Context) error {
				_, err := t.ctrl.Stop(ctx)
				return err
			})
		case <-items.cancel.ClickedCh:
			t.run("cancel", t.ctrl.Cancel)
		case <-items.copy.ClickedCh:
			t.copyLastPath()
		case <-items.folder.ClickedCh:
			if t.actions.OpenFolder != nil {
				if err := t.actions.OpenFolder(); err != nil {
					t.showError(err)
				}
			}
		case <-items.quit.ClickedCh:
			if t.actions.Quit != nil {
				go t.actions.Quit()
			}
		}
	}
}

func (t *Tray) run(action string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	err := fn(ctx)
	switch {
	case err == nil:
	case recording.IsBenign(err), errors.Is(err, recording.ErrOperationInProgress):
		log.Debug().Err(err).Str("action", action).Msg("tray action ignored")
	default:
		log.Warn().Err(err).Str("action", action).Msg("tray action failed")
		t.showError(err)
	}
}

func (t *Tray) copyLastPath() {
	t.mu.Lock()
	path := t.last.LastPath
	t.mu.Unlock()
	if path == "" {
		return
	}
	if err := clipboard.WriteAll(path); err != nil {
		log.Warn().Err(err).Msg("failed to copy path to clipboard")
		t.showError(err)
		return
	}
	log.Debug().Str("path", path).Msg("copied recording path")
}

func (t *Tray) showError(err error) {
	systray.SetTooltip("memocapture - " + err.Error())
}

func (t *Tray) render(st recording.Status) {
	t.mu.Lock()
	t.last = st
	items := t.items
	t.mu.Unlock()
	if items == nil {
		return
	}

	m := BuildMenu(st, time.Now())
	if m.Recording {
		systray.SetIcon(iconRecording)
	} else {
		systray.SetIcon(iconIdle)
	}
	systray.SetTooltip(m.Tooltip)
	items.status.SetTitle(m.Status)
	setEnabled(items.start, m.CanStart)
	setEnabled(items.stop, m.CanStop)
	setEnabled(items.cancel, m.CanCancel)
	setEnabled(items.copy, m.CanCopy)
}

func setEnabled(item *systray.MenuItem, on bool) {
	if on {
		item.Enable()
	} else {
		item.Disable()
	}
}
