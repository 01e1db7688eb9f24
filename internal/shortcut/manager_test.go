package shortcut

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

type fakeController struct {
	mu        sync.Mutex
	recording bool
	calls     []string
}

func (f *fakeController) Start(ctx context.Context, req recording.StartRequest) (*recording.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if f.recording {
		return nil, recording.ErrAlreadyRecording
	}
	f.recording = true
	return &recording.StartResult{TaskID: "t1"}, nil
}

func (f *fakeController) Stop(ctx context.Context) (*recording.StopResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	if !f.recording {
		return nil, recording.ErrNoActiveRecording
	}
	f.recording = false
	return &recording.StopResult{TaskID: "t1"}, nil
}

func (f *fakeController) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel")
	if !f.recording {
		return recording.ErrNoActiveRecording
	}
	f.recording = false
	return nil
}

func (f *fakeController) Status() recording.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recording.Status{IsRecording: f.recording}
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish(e events.Event) {
	if e.Type == events.EventShortcutsChanged {
		p.mu.Lock()
		p.n++
		p.mu.Unlock()
	}
}

func newTestManager(t *testing.T) (*Manager, *FakeRegistrar, *fakeController, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memocapture.yaml")
	if err := config.WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	reg := NewFakeRegistrar()
	ctrl := &fakeController{}
	m := NewManager(reg, ctrl, &countingPublisher{}, path, config.DefaultShortcuts())
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Close)
	return m, reg, ctrl, path
}

func TestManager_RegistersEnabledBindings(t *testing.T) {
	_, reg, _, _ := newTestManager(t)
	want := []string{"Ctrl+Shift+C", "Ctrl+Shift+R", "Ctrl+Shift+S"}
	if got := reg.Bound(); !reflect.DeepEqual(got, want) {
		t.Errorf("bound = %v, want %v", got, want)
	}
}

func TestManager_PressDispatchesToController(t *testing.T) {
	_, reg, ctrl, _ := newTestManager(t)

	reg.Press("Ctrl+Shift+R")
	reg.Press("Ctrl+Shift+R") // duplicate start is rejected by the controller and only logged
	reg.Press("Ctrl+Shift+S")
	reg.Press("Ctrl+Shift+C") // nothing to cancel

	want := []string{"start", "start", "stop", "cancel"}
	if got := ctrl.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if ctrl.Status().IsRecording {
		t.Error("controller should be idle")
	}
}

func TestManager_UpdateRebindsAndPersists(t *testing.T) {
	m, reg, ctrl, path := newTestManager(t)

	key := "alt+shift+r"
	b, err := m.Update(config.ActionStart, Update{Key: &key})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.Key != "Alt+Shift+R" || !b.Registered {
		t.Errorf("binding = %+v", b)
	}
	if reg.Press("Ctrl+Shift+R") {
		t.Error("old combination still registered")
	}
	if !reg.Press("Alt+Shift+R") {
		t.Error("new combination not registered")
	}
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "start" {
		t.Errorf("calls = %v", got)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shortcuts[0].Key != "Alt+Shift+R" {
		t.Errorf("persisted key = %s", cfg.Shortcuts[0].Key)
	}
}

func TestManager_UpdateConflictChangesNothing(t *testing.T) {
	m, reg, _, path := newTestManager(t)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	boundBefore := reg.Bound()
	listBefore := m.List()

	key := "Shift+Ctrl+S"
	if _, err := m.Update(config.ActionStart, Update{Key: &key}); !errors.Is(err, ErrConflict) {
		t.Fatalf("Update = %v, want ErrConflict", err)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("config file changed on conflict")
	}
	if !reflect.DeepEqual(reg.Bound(), boundBefore) {
		t.Errorf("registrations changed: %v -> %v", boundBefore, reg.Bound())
	}
	if !reflect.DeepEqual(m.List(), listBefore) {
		t.Error("bindings changed on conflict")
	}
}

func TestManager_UpdateInvalidKey(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	key := "Hyper+Q"
	if _, err := m.Update(config.ActionStop, Update{Key: &key}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Update = %v, want ErrInvalidKey", err)
	}
	if _, err := m.Update("pause", Update{}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Update unknown action = %v, want ErrUnknownAction", err)
	}
}

func TestManager_RegisterFailureRestoresOldBinding(t *testing.T) {
	m, reg, _, path := newTestManager(t)
	reg.FailOn("Ctrl+Alt+R", errors.New("grabbed by another application"))
	before, _ := os.ReadFile(path)

	key := "Ctrl+Alt+R"
	if _, err := m.Update(config.ActionStart, Update{Key: &key}); err == nil {
		t.Fatal("expected registration failure")
	}
	if !reg.Press("Ctrl+Shift+R") {
		t.Error("previous binding not restored")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("config file changed after failed registration")
	}
}

func TestManager_DisableFreesCombination(t *testing.T) {
	m, reg, _, _ := newTestManager(t)

	b, err := m.SetEnabled(config.ActionCancel, false)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if b.Enabled || b.Registered {
		t.Errorf("binding = %+v, want disabled and unregistered", b)
	}
	if reg.Press("Ctrl+Shift+C") {
		t.Error("disabled shortcut still fires")
	}

	// A disabled binding does not hold its combination
	key := "Ctrl+Shift+C"
	if _, err := m.Update(config.ActionStop, Update{Key: &key}); err != nil {
		t.Errorf("rebinding to a disabled binding's key: %v", err)
	}
	if _, err := m.SetEnabled(config.ActionCancel, true); !errors.Is(err, ErrConflict) {
		t.Errorf("re-enabling onto a taken key = %v, want ErrConflict", err)
	}
}

func TestManager_Reset(t *testing.T) {
	m, reg, _, path := newTestManager(t)
	key := "Ctrl+Alt+1"
	if _, err := m.Update(config.ActionStart, Update{Key: &key}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	want := []string{"Ctrl+Shift+C", "Ctrl+Shift+R", "Ctrl+Shift+S"}
	if got := reg.Bound(); !reflect.DeepEqual(got, want) {
		t.Errorf("bound after reset = %v", got)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Shortcuts[0].Key != "Ctrl+Shift+R" {
		t.Errorf("persisted key after reset = %s", cfg.Shortcuts[0].Key)
	}
}

func TestManager_Toggle(t *testing.T) {
	reg := NewFakeRegistrar()
	ctrl := &fakeController{}
	m := NewManager(reg, ctrl, nil, "", []config.ShortcutConfig{
		{Action: config.ActionToggle, Key: "Ctrl+Shift+Space", Enabled: true},
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	reg.Press("Ctrl+Shift+Space")
	reg.Press("Ctrl+Shift+Space")
	if got := ctrl.Calls(); !reflect.DeepEqual(got, []string{"start", "stop"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestManager_StartReportsRefusedBindings(t *testing.T) {
	reg := NewFakeRegistrar()
	reg.FailOn("Ctrl+Shift+S", errors.New("taken"))
	m := NewManager(reg, &fakeController{}, nil, "", config.DefaultShortcuts())
	defer m.Close()

	if err := m.Start(); err == nil {
		t.Error("expected error for refused binding")
	}
	for _, b := range m.List() {
		if b.Action == config.ActionStop && b.Registered {
			t.Error("refused binding reported as registered")
		}
		if b.Action == config.ActionStart && !b.Registered {
			t.Error("other bindings should still register")
		}
	}
}

func TestManager_UpdateBeforeStartOnlyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memocapture.yaml")
	if err := config.WriteDefault(path, false); err != nil {
		t.Fatal(err)
	}
	reg := NewFakeRegistrar()
	m := NewManager(reg, &fakeController{}, nil, path, config.DefaultShortcuts())

	key := "Alt+Shift+R"
	b, err := m.Update(config.ActionStart, Update{Key: &key})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.Registered || len(reg.Bound()) != 0 {
		t.Errorf("update before Start registered hotkeys: %v", reg.Bound())
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Shortcuts[0].Key != "Alt+Shift+R" {
		t.Errorf("persisted key = %s", cfg.Shortcuts[0].Key)
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if !reg.Press("Alt+Shift+R") {
		t.Error("updated binding not registered on Start")
	}
}
