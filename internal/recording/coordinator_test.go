package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordedEvents) statuses() []events.RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.RecordingStatus
	for _, e := range r.events {
		if e.Type == events.EventStatusChanged {
			out = append(out, *e.Status)
		}
	}
	return out
}

// faultyStore fails transitions into a chosen status
type faultyStore struct {
	tasks.Store
	failTo tasks.Status
}

func (f *faultyStore) Transition(ctx context.Context, id string, from, to tasks.Status, fields tasks.Patch) (*tasks.Task, error) {
	if to == f.failTo {
		return nil, errors.New("disk full")
	}
	return f.Store.Transition(ctx, id, from, to, fields)
}

type fixture struct {
	store  tasks.Store
	device *audio.FakeDevice
	pub    *recordedEvents
	coord  *Coordinator
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := tasks.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store)
}

func newFixtureWithStore(t *testing.T, store tasks.Store) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scratch")
	dev := audio.NewFakeDevice()
	pub := &recordedEvents{}
	c := New(store, dev, pub, Options{
		OutputDir:    dir,
		Params:       audio.Params{SampleRate: 44100, Channels: 1, Format: "wav"},
		StartTimeout: time.Second,
	})
	return &fixture{store: store, device: dev, pub: pub, coord: c, dir: dir}
}

func (f *fixture) task(t *testing.T, id string) *tasks.Task {
	t.Helper()
	task, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get task %s: %v", id, err)
	}
	return task
}

func TestCoordinator_ConcurrentStartMutualExclusion(t *testing.T) {
	f := newFixture(t)
	f.device.OpenDelay = 50 * time.Millisecond
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Start(ctx, StartRequest{Title: "memo"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successful starts = %d, want 1", successes)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrAlreadyRecording) && !errors.Is(err, ErrOperationInProgress) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	recording, err := f.store.ListByStatus(ctx, tasks.StatusRecording)
	if err != nil {
		t.Fatal(err)
	}
	if len(recording) != 1 {
		t.Errorf("recording tasks = %d, want 1", len(recording))
	}
	if f.device.Opens() != 1 {
		t.Errorf("capture opens = %d, want 1", f.device.Opens())
	}

	// A start after the race settles must see the active recording
	if _, err := f.coord.Start(ctx, StartRequest{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Start while recording = %v, want ErrAlreadyRecording", err)
	}
}

func TestCoordinator_StartStopRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{Title: "standup notes"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if filepath.Dir(res.Path) != f.dir {
		t.Errorf("path %s not in scratch dir %s", res.Path, f.dir)
	}
	st := f.coord.Status()
	if !st.IsRecording || st.ActiveTaskID != res.TaskID || st.State != string(StateRecording) {
		t.Errorf("status while recording = %+v", st)
	}
	if got := f.task(t, res.TaskID).Status; got != tasks.StatusRecording {
		t.Errorf("task status = %s, want recording", got)
	}

	stop, err := f.coord.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stop.TaskID != res.TaskID || stop.Path != res.Path {
		t.Errorf("stop result = %+v, start result = %+v", stop, res)
	}

	task := f.task(t, res.TaskID)
	if task.Status != tasks.StatusCompleted {
		t.Errorf("task status = %s, want completed", task.Status)
	}
	if task.AudioPath != res.Path {
		t.Errorf("audioPath = %q, want %q", task.AudioPath, res.Path)
	}
	if _, err := os.Stat(task.AudioPath); err != nil {
		t.Errorf("audio file missing: %v", err)
	}

	st = f.coord.Status()
	if st.IsRecording || st.ActiveTaskID != "" || st.LastPath != res.Path {
		t.Errorf("status after stop = %+v", st)
	}

	statuses := f.pub.statuses()
	if len(statuses) != 2 || !statuses[0].IsRecording || statuses[1].IsRecording {
		t.Errorf("broadcast statuses = %+v, want recording then idle", statuses)
	}
}

func TestCoordinator_DefaultTitle(t *testing.T) {
	f := newFixture(t)
	f.coord.now = func() time.Time { return time.Date(2024, 5, 2, 8, 15, 0, 0, time.Local) }

	res, err := f.coord.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.task(t, res.TaskID).Title; got != "Recording 2024-05-02 08:15:00" {
		t.Errorf("title = %q", got)
	}
}

func TestCoordinator_CancelDiscards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{Title: "scrap"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.coord.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	task := f.task(t, res.TaskID)
	if task.Status != tasks.StatusQueued {
		t.Errorf("task status = %s, want queued", task.Status)
	}
	if task.AudioPath != "" {
		t.Errorf("audioPath = %q, want empty", task.AudioPath)
	}
	if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
		t.Errorf("recording file still exists: %v", err)
	}
	if f.coord.Status().IsRecording {
		t.Error("still recording after cancel")
	}
	if len(f.device.Active()) != 0 {
		t.Error("capture left running after cancel")
	}
}

func TestCoordinator_StopAndCancelWithoutRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.Start(ctx, StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := f.coord.Stop(ctx)
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	before := f.coord.Status()
	taskBefore := f.task(t, first.TaskID)

	if _, err := f.coord.Stop(ctx); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("second Stop = %v, want ErrNoActiveRecording", err)
	}
	if !IsBenign(ErrNoActiveRecording) {
		t.Error("ErrNoActiveRecording should be benign")
	}
	if err := f.coord.Cancel(ctx); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("Cancel when idle = %v, want ErrNoActiveRecording", err)
	}

	if after := f.coord.Status(); after != before {
		t.Errorf("status changed: %+v -> %+v", before, after)
	}
	taskAfter := f.task(t, first.TaskID)
	if taskAfter.Status != taskBefore.Status || !taskAfter.UpdatedAt.Equal(taskBefore.UpdatedAt) {
		t.Errorf("task changed after duplicate stop: %+v -> %+v", taskBefore, taskAfter)
	}
	if f.device.Closes() != 1 {
		t.Errorf("capture closes = %d, want 1", f.device.Closes())
	}
}

func TestCoordinator_StartFailureRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device.SetOpenErr(errors.New("device busy"))

	_, err := f.coord.Start(ctx, StartRequest{Title: "will fail"})
	if !errors.Is(err, ErrCaptureStartFailed) {
		t.Fatalf("Start = %v, want ErrCaptureStartFailed", err)
	}
	if f.coord.Status().IsRecording {
		t.Error("status reports recording after failed start")
	}

	list, err := f.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != tasks.StatusQueued {
		t.Fatalf("tasks after failed start = %+v, want one queued", list)
	}

	// The coordinator is usable again once the device recovers
	f.device.SetOpenErr(nil)
	if _, err := f.coord.Start(ctx, StartRequest{TaskID: list[0].ID}); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
}

func TestCoordinator_StartTimeout(t *testing.T) {
	f := newFixture(t)
	f.device.OpenDelay = time.Second
	f.coord.opts.StartTimeout = 20 * time.Millisecond

	_, err := f.coord.Start(context.Background(), StartRequest{})
	if !errors.Is(err, ErrCaptureStartFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start = %v, want capture start failure from timeout", err)
	}
	recording, _ := f.store.FindRecording(context.Background())
	if recording != nil {
		t.Errorf("task %s left recording after timeout", recording.ID)
	}
}

func TestCoordinator_CrashRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A previous run died mid-recording
	stale, err := f.store.Create(ctx, "interrupted", tasks.StatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Transition(ctx, stale.ID, tasks.StatusQueued, tasks.StatusRecording, tasks.Patch{}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.coord.Start(ctx, StartRequest{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Start before recovery = %v, want ErrAlreadyRecording", err)
	}

	recovered, err := f.coord.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered == nil || recovered.ID != stale.ID {
		t.Fatalf("recovered = %+v, want %s", recovered, stale.ID)
	}
	if got := f.task(t, stale.ID).Status; got != tasks.StatusQueued {
		t.Errorf("status after recovery = %s, want queued", got)
	}
	if f.coord.Status().IsRecording {
		t.Error("status reports recording after recovery")
	}

	again, err := f.coord.Recover(ctx)
	if err != nil || again != nil {
		t.Errorf("second Recover = %v, %v, want no-op", again, err)
	}
	if _, err := f.coord.Start(ctx, StartRequest{}); err != nil {
		t.Errorf("Start after recovery: %v", err)
	}
}

func TestCoordinator_StartExistingTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued, _ := f.store.Create(ctx, "backlog item", tasks.StatusQueued)
	res, err := f.coord.Start(ctx, StartRequest{TaskID: queued.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.TaskID != queued.ID {
		t.Errorf("recorded into %s, want %s", res.TaskID, queued.ID)
	}
	if _, err := f.coord.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := f.coord.Start(ctx, StartRequest{TaskID: queued.ID}); !errors.Is(err, ErrTaskNotQueued) {
		t.Errorf("Start on completed task = %v, want ErrTaskNotQueued", err)
	}
	if _, err := f.coord.Start(ctx, StartRequest{TaskID: "missing"}); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("Start on missing task = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_StopPersistenceInconsistency(t *testing.T) {
	store, err := tasks.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	faulty := &faultyStore{Store: store, failTo: tasks.StatusCompleted}
	f := newFixtureWithStore(t, faulty)
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = f.coord.Stop(ctx)
	if !errors.Is(err, ErrPersistenceInconsistency) {
		t.Fatalf("Stop = %v, want ErrPersistenceInconsistency", err)
	}
	var perr *PersistenceInconsistencyError
	if !errors.As(err, &perr) || perr.TaskID != res.TaskID || perr.AudioPath != res.Path {
		t.Errorf("error details = %+v", perr)
	}

	// capture is released and not resumable
	if f.coord.Status().IsRecording {
		t.Error("coordinator still recording")
	}
	if len(f.device.Active()) != 0 {
		t.Error("capture still running")
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("recorded file should be kept: %v", err)
	}
}

func TestCoordinator_CaptureDiesMidRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bus := events.NewBus(16)
	defer bus.Close()
	f.coord.pub = bus
	ch, unsubscribe := bus.SubscribeChan(16, events.EventStatusChanged)
	defer unsubscribe()

	res, err := f.coord.Start(ctx, StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ch // recording

	f.device.Kill(f.device.Active()[0])

	select {
	case e := <-ch:
		if e.Status.IsRecording {
			t.Errorf("expected idle status after capture died, got %+v", e.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status broadcast after capture died")
	}

	task := f.task(t, res.TaskID)
	if task.Status != tasks.StatusCompleted || task.AudioPath != res.Path {
		t.Errorf("task after capture died = %+v, want completed with file", task)
	}
	if _, err := f.coord.Stop(ctx); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("Stop after capture died = %v, want ErrNoActiveRecording", err)
	}
}

func TestCoordinator_CaptureDiesWithoutAudio(t *testing.T) {
	f := newFixture(t)
	f.device.FileSize = 10
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.device.Kill(f.device.Active()[0])

	deadline := time.After(2 * time.Second)
	for f.coord.Status().IsRecording {
		select {
		case <-deadline:
			t.Fatal("coordinator did not notice the capture ending")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := f.task(t, res.TaskID).Status; got != tasks.StatusQueued {
		t.Errorf("task status = %s, want queued", got)
	}
	if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
		t.Error("unusable file should be removed")
	}
}

func TestCoordinator_ShutdownStopsActiveRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop, err := f.coord.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if stop == nil || stop.TaskID != res.TaskID {
		t.Fatalf("shutdown result = %+v", stop)
	}
	if got := f.task(t, res.TaskID).Status; got != tasks.StatusCompleted {
		t.Errorf("task status = %s, want completed", got)
	}
	if len(f.device.Active()) != 0 {
		t.Error("capture still running after shutdown")
	}
	if _, err := f.coord.Start(ctx, StartRequest{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestCoordinator_Reconfigure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := audio.NewFakeDevice()
	opts := f.coord.opts
	opts.Params.SampleRate = 16000
	if err := f.coord.Reconfigure(other, opts); err != nil {
		t.Fatalf("Reconfigure idle: %v", err)
	}
	if _, err := f.coord.Start(ctx, StartRequest{}); err != nil {
		t.Fatal(err)
	}
	if other.Opens() != 1 || f.device.Opens() != 0 {
		t.Errorf("new device not used (opens: new=%d old=%d)", other.Opens(), f.device.Opens())
	}
	if err := f.coord.Reconfigure(nil, opts); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Reconfigure while recording = %v, want ErrAlreadyRecording", err)
	}
}

func TestCoordinator_StopAndCancelDuringStart(t *testing.T) {
	f := newFixture(t)
	f.device.OpenDelay = 300 * time.Millisecond
	ctx := context.Background()

	started := make(chan error, 1)
	go func() {
		_, err := f.coord.Start(ctx, StartRequest{})
		started <- err
	}()

	deadline := time.Now().Add(time.Second)
	for f.coord.Status().State != string(StateStarting) {
		if time.Now().After(deadline) {
			t.Fatal("coordinator never reached starting")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.coord.Stop(ctx); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Stop during start = %v, want ErrOperationInProgress", err)
	}
	if err := f.coord.Cancel(ctx); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Cancel during start = %v, want ErrOperationInProgress", err)
	}

	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.coord.Status().IsRecording {
		t.Error("start was disturbed by the rejected stop and cancel")
	}
	if f.device.Closes() != 0 {
		t.Errorf("capture closes = %d, want 0", f.device.Closes())
	}
}

// createFailStore refuses to create tasks
type createFailStore struct {
	tasks.Store
}

func (createFailStore) Create(ctx context.Context, title string, status tasks.Status) (*tasks.Task, error) {
	return nil, errors.New("disk full")
}

func TestCoordinator_CreateFailureOpensNoCapture(t *testing.T) {
	store, err := tasks.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	f := newFixtureWithStore(t, createFailStore{Store: store})

	if _, err := f.coord.Start(context.Background(), StartRequest{Title: "memo"}); err == nil {
		t.Fatal("Start succeeded without a task")
	}
	if f.device.Opens() != 0 {
		t.Errorf("capture opens = %d, want 0", f.device.Opens())
	}
	if st := f.coord.Status(); st.IsRecording || st.State != string(StateIdle) {
		t.Errorf("status = %+v, want idle", st)
	}
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("tasks = %+v, want none", list)
	}
}

func TestCoordinator_CancelWithStuckFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Start(ctx, StartRequest{Title: "scrap"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// a non-empty directory in place of the recording cannot be removed
	if err := os.Remove(res.Path); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(res.Path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Cancel(ctx); err != nil {
		t.Fatalf("Cancel = %v, want nil when only file cleanup fails", err)
	}
	task := f.task(t, res.TaskID)
	if task.Status != tasks.StatusQueued || task.AudioPath != "" {
		t.Errorf("task = %s %q, want queued without audio", task.Status, task.AudioPath)
	}
	if f.coord.Status().IsRecording {
		t.Error("still recording after cancel")
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("stuck path should remain: %v", err)
	}
}

func TestCoordinator_StopSizeThreshold(t *testing.T) {
	tests := []struct {
		size    int
		wantErr bool
	}{
		{audio.MinRecordingSize - 1, true},
		{audio.MinRecordingSize, false},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.device.FileSize = tt.size
		ctx := context.Background()

		res, err := f.coord.Start(ctx, StartRequest{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		_, err = f.coord.Stop(ctx)
		task := f.task(t, res.TaskID)
		if tt.wantErr {
			if !errors.Is(err, ErrNoAudio) {
				t.Errorf("size %d: Stop = %v, want ErrNoAudio", tt.size, err)
			}
			if task.Status != tasks.StatusQueued {
				t.Errorf("size %d: task status = %s, want queued", tt.size, task.Status)
			}
			continue
		}
		if err != nil {
			t.Errorf("size %d: Stop = %v", tt.size, err)
		}
		if task.Status != tasks.StatusCompleted {
			t.Errorf("size %d: task status = %s, want completed", tt.size, task.Status)
		}
	}
}
