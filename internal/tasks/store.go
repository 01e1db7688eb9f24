package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('queued', 'recording', 'completed')),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	audio_path TEXT,
	duration   REAL
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_single_recording ON tasks(status) WHERE status = 'recording';
`

const taskColumns = `id, title, status, created_at, updated_at, audio_path, duration`

// SQLiteStore implements Store on a single SQLite database file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the task database at path.
// The special path ":memory:" opens a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.init(context.Background(), path != ":memory:"); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context, wal bool) error {
	pragmas := []string{"PRAGMA busy_timeout = 5000;"}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL;", "PRAGMA synchronous = NORMAL;")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new task. Rows cannot be created directly in the recording status.
func (s *SQLiteStore) Create(ctx context.Context, title string, status Status) (*Task, error) {
	if status == "" {
		status = StatusQueued
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if status == StatusRecording {
		return nil, fmt.Errorf("create task: %w", ErrTaskRecording)
	}

	now := s.now()
	t := &Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?);
	`, t.ID, t.Title, string(t.Status), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get returns the task with the given id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns every task, newest first
func (s *SQLiteStore) List(ctx context.Context) ([]*Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC;`)
}

// ListByStatus returns tasks in the given status, newest first
func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status) ([]*Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at DESC, rowid DESC;`, string(status))
}

// FindRecording returns the task currently in the recording status, or nil when there is none
func (s *SQLiteStore) FindRecording(ctx context.Context) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? LIMIT 1;`, string(StatusRecording))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recording task: %w", err)
	}
	return t, nil
}

// Update edits a task outside the recording lifecycle. The recording row is
// read-only here. Only the title may change: a status patch must name the
// current status, and audioPath and duration belong to Transition.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) error {
	if patch.AudioPath != nil {
		return fmt.Errorf("update task %s: audioPath: %w", id, ErrReadOnlyField)
	}
	if patch.Duration != nil {
		return fmt.Errorf("update task %s: duration: %w", id, ErrReadOnlyField)
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
		}
		if *patch.Status == StatusRecording {
			return fmt.Errorf("update task %s: %w", id, ErrTaskRecording)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	current, err := statusTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if current == StatusRecording {
		return fmt.Errorf("update task %s: %w", id, ErrTaskRecording)
	}
	if patch.Status != nil && *patch.Status != current {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransit, current, *patch.Status)
	}
	if patch.Empty() {
		return nil
	}

	if err := applyPatchTx(ctx, tx, id, current, patch, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the task and its audio file. The recording row cannot be deleted.
// Failing to remove the audio file is logged and does not fail the delete.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	var (
		status    Status
		audioPath sql.NullString
	)
	err = tx.QueryRowContext(ctx, `SELECT status, audio_path FROM tasks WHERE id = ?;`, id).Scan(&status, &audioPath)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("select task for delete: %w", err)
	}
	if status == StatusRecording {
		return fmt.Errorf("delete task %s: %w", id, ErrTaskRecording)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if audioPath.Valid && audioPath.String != "" {
		if err := os.Remove(audioPath.String); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("task_id", id).Str("path", audioPath.String).Msg("failed to remove audio file of deleted task")
		}
	}
	return nil
}

// Transition moves a task from one status to another, applying fields in the
// same statement. It fails with ErrConflict when the row is not in the
// expected status and with ErrRecordingExists when another row already records.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to Status, fields Patch) (*Task, error) {
	if !canTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransit, from, to)
	}
	fields.Status = &to

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	current, err := statusTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current != from {
		return nil, fmt.Errorf("%w: task %s is %s, expected %s", ErrConflict, id, current, from)
	}
	if err := applyPatchTx(ctx, tx, id, from, fields, s.now()); err != nil {
		return nil, err
	}

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id))
	if err != nil {
		return nil, fmt.Errorf("reload task after transition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return t, nil
}

func statusTx(ctx context.Context, tx *sql.Tx, id string) (Status, error) {
	var current Status
	err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("select task status: %w", err)
	}
	return current, nil
}

// applyPatchTx writes the non-nil fields of patch, guarded on the row still
// being in status expect.
func applyPatchTx(ctx context.Context, tx *sql.Tx, id string, expect Status, patch Patch, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{now.UnixNano()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AudioPath != nil {
		sets = append(sets, "audio_path = ?")
		args = append(args, nullIfEmpty(*patch.AudioPath))
	}
	if patch.Duration != nil {
		sets = append(sets, "duration = ?")
		args = append(args, *patch.Duration)
	}
	args = append(args, id, string(expect))

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?;`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRecordingExists
		}
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: task %s", ErrConflict, id)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		t         Task
		status    string
		created   int64
		updated   int64
		audioPath sql.NullString
		duration  sql.NullFloat64
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &created, &updated, &audioPath, &duration); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.CreatedAt = time.Unix(0, created)
	t.UpdatedAt = time.Unix(0, updated)
	t.AudioPath = audioPath.String
	t.Duration = duration.Float64
	return &t, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
