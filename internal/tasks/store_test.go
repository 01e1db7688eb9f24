package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "standup notes", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an id")
	}
	if created.Status != StatusQueued {
		t.Errorf("status = %s, want queued", created.Status)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "standup notes" || got.Status != StatusQueued {
		t.Errorf("got %+v", got)
	}
	if got.AudioPath != "" {
		t.Errorf("audioPath should be empty, got %q", got.AudioPath)
	}
}

func TestCreateRejectsRecordingStatus(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(context.Background(), "x", StatusRecording); !errors.Is(err, ErrTaskRecording) {
		t.Fatalf("expected ErrTaskRecording, got %v", err)
	}
	if _, err := s.Create(context.Background(), "x", "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, title := range []string{"first", "second", "third"} {
		if _, err := s.Create(ctx, title, StatusQueued); err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(list))
	}
	want := []string{"third", "second", "first"}
	for i, task := range list {
		if task.Title != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, task.Title, want[i])
		}
	}
}

func TestTransitionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "memo", StatusQueued)

	rec, err := s.Transition(ctx, task.ID, StatusQueued, StatusRecording, Patch{})
	if err != nil {
		t.Fatalf("queued->recording: %v", err)
	}
	if rec.Status != StatusRecording {
		t.Errorf("status = %s", rec.Status)
	}

	found, err := s.FindRecording(ctx)
	if err != nil || found == nil || found.ID != task.ID {
		t.Fatalf("FindRecording = %v, %v", found, err)
	}

	done, err := s.Transition(ctx, task.ID, StatusRecording, StatusCompleted, Patch{
		AudioPath: ptr("/tmp/a.wav"),
		Duration:  ptr(12.5),
	})
	if err != nil {
		t.Fatalf("recording->completed: %v", err)
	}
	if done.AudioPath != "/tmp/a.wav" || done.Duration != 12.5 {
		t.Errorf("completed task = %+v", done)
	}

	found, err = s.FindRecording(ctx)
	if err != nil || found != nil {
		t.Fatalf("expected no recording task, got %v, %v", found, err)
	}
}

func TestTransitionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, "memo", StatusQueued)

	if _, err := s.Transition(ctx, task.ID, StatusRecording, StatusQueued, Patch{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.Transition(ctx, task.ID, StatusQueued, StatusCompleted, Patch{}); !errors.Is(err, ErrIllegalTransit) {
		t.Fatalf("expected ErrIllegalTransit, got %v", err)
	}
}

func TestSingleRecordingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, "a", StatusQueued)
	b, _ := s.Create(ctx, "b", StatusQueued)

	if _, err := s.Transition(ctx, a.ID, StatusQueued, StatusRecording, Patch{}); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if _, err := s.Transition(ctx, b.ID, StatusQueued, StatusRecording, Patch{}); !errors.Is(err, ErrRecordingExists) {
		t.Fatalf("expected ErrRecordingExists, got %v", err)
	}

	got, _ := s.Get(ctx, b.ID)
	if got.Status != StatusQueued {
		t.Errorf("b should remain queued, got %s", got.Status)
	}
}

func TestUpdateGuardsRecordingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, "memo", StatusQueued)

	if err := s.Update(ctx, task.ID, Patch{Title: ptr("renamed")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(ctx, task.ID)
	if got.Title != "renamed" {
		t.Errorf("title = %q", got.Title)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updatedAt %v before createdAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.Update(ctx, task.ID, Patch{Status: ptr(StatusRecording)}); !errors.Is(err, ErrTaskRecording) {
		t.Fatalf("expected ErrTaskRecording when setting recording, got %v", err)
	}

	if _, err := s.Transition(ctx, task.ID, StatusQueued, StatusRecording, Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.Update(ctx, task.ID, Patch{Title: ptr("again")}); !errors.Is(err, ErrTaskRecording) {
		t.Fatalf("expected ErrTaskRecording on recording row, got %v", err)
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, ErrTaskRecording) {
		t.Fatalf("expected ErrTaskRecording on delete, got %v", err)
	}
}

func TestUpdateRefusesLifecycleFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, "memo", StatusQueued)
	done, _ := s.Create(ctx, "done", StatusCompleted)

	tests := []struct {
		name  string
		id    string
		patch Patch
		want  error
	}{
		{"audio path", task.ID, Patch{AudioPath: ptr("/tmp/x.wav")}, ErrReadOnlyField},
		{"duration", task.ID, Patch{Duration: ptr(3.5)}, ErrReadOnlyField},
		{"queued to completed", task.ID, Patch{Status: ptr(StatusCompleted)}, ErrIllegalTransit},
		{"completed to queued", done.ID, Patch{Status: ptr(StatusQueued)}, ErrIllegalTransit},
		{"title with audio path", task.ID, Patch{Title: ptr("x"), AudioPath: ptr("")}, ErrReadOnlyField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Update(ctx, tt.id, tt.patch); !errors.Is(err, tt.want) {
				t.Errorf("Update = %v, want %v", err, tt.want)
			}
		})
	}

	got, _ := s.Get(ctx, task.ID)
	if got.Status != StatusQueued || got.AudioPath != "" || got.Duration != 0 || got.Title != "memo" {
		t.Errorf("refused updates changed the task: %+v", got)
	}

	// naming the current status is a no-op alongside a rename
	if err := s.Update(ctx, done.ID, Patch{Title: ptr("renamed"), Status: ptr(StatusCompleted)}); err != nil {
		t.Fatalf("Update with unchanged status: %v", err)
	}
	if got, _ := s.Get(ctx, done.ID); got.Title != "renamed" || got.Status != StatusCompleted {
		t.Errorf("task = %+v", got)
	}
}

func TestDeleteRemovesAudioFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	audio := filepath.Join(t.TempDir(), "recording.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	task, _ := s.Create(ctx, "memo", StatusQueued)
	if _, err := s.Transition(ctx, task.ID, StatusQueued, StatusRecording, Patch{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transition(ctx, task.ID, StatusRecording, StatusCompleted, Patch{AudioPath: ptr(audio)}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(audio); !os.IsNotExist(err) {
		t.Errorf("audio file should be removed, stat err = %v", err)
	}
	if _, err := s.Get(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestListByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "q1", StatusQueued)
	s.Create(ctx, "c1", StatusCompleted)
	s.Create(ctx, "q2", StatusQueued)

	queued, err := s.ListByStatus(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("expected 2 queued, got %d", len(queued))
	}
	for _, task := range queued {
		if task.Status != StatusQueued {
			t.Errorf("unexpected status %s", task.Status)
		}
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasks.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	task, _ := s.Create(context.Background(), "persisted", StatusQueued)
	s.Transition(context.Background(), task.ID, StatusQueued, StatusRecording, Patch{})
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	found, err := s2.FindRecording(context.Background())
	if err != nil || found == nil || found.ID != task.ID {
		t.Fatalf("FindRecording after reopen = %v, %v", found, err)
	}
}
