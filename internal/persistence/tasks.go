package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/scheduler"
)

// TaskRecord is a task as the journal last saw it.
type TaskRecord struct {
	RunID       string
	ID          string
	Seq         uint64
	Description string
	DependsOn   []string
	Tags        []string
	Condition   string
	Resources   map[string]int
	Timeout     time.Duration
	Supersedes  string
	Priority    int
	Status      scheduler.Status
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// ErrNotFound is returned when a run or task has no journal entry.
var ErrNotFound = errors.New("not found in journal")

// RecordTask saves or updates a task and its dependencies.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) RecordTask(ctx context.Context, runID string, task scheduler.Task) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureRun(ctx, tx, runID); err != nil {
		return err
	}

	resources, err := json.Marshal(task.Resources)
	if err != nil {
		return fmt.Errorf("failed to encode resources: %w", err)
	}

	errorStr := ""
	if task.Err != nil {
		errorStr = task.Err.Error()
	}

	submitted := task.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (run_id, id, seq, description, tags, failure_condition, resources, timeout_ms, supersedes, priority, status, error, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			seq = excluded.seq,
			description = excluded.description,
			tags = excluded.tags,
			failure_condition = excluded.failure_condition,
			resources = excluded.resources,
			timeout_ms = excluded.timeout_ms,
			supersedes = excluded.supersedes,
			priority = excluded.priority,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, runID, task.ID, int64(task.Seq), task.Description, strings.Join(task.Tags, ","), task.Condition,
		string(resources), task.Timeout.Milliseconds(), task.Supersedes, task.Priority,
		task.Status.String(), errorStr, submitted, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	// Replace dependencies. A dependency may name a task that was never
	// submitted, so it is not a foreign key.
	_, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE run_id = ? AND task_id = ?`, runID, task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range task.DependsOn {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (run_id, task_id, depends_on_id)
			VALUES (?, ?, ?)
		`, runID, task.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RecordTransition appends a status change and updates the task's current
// status and priority.
func (s *SQLiteStore) RecordTransition(ctx context.Context, runID string, tr orchestrator.Transition) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureRun(ctx, tx, runID); err != nil {
		return err
	}

	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transitions (run_id, task_id, from_status, to_status, priority, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, tr.TaskID, tr.From.String(), tr.To.String(), tr.Priority, tr.Detail, at)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	// Failure details stay on the task row once it is terminal
	errorStr := ""
	if tr.To == scheduler.StatusError || tr.To == scheduler.StatusRerouted || tr.To == scheduler.StatusCancelled {
		errorStr = tr.Detail
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, priority = ?, error = ?, updated_at = ?
		WHERE run_id = ? AND id = ?
	`, tr.To.String(), tr.Priority, errorStr, at, runID, tr.TaskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTask retrieves a task by run and ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, runID, taskID string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, taskColumns+`
		FROM tasks
		WHERE run_id = ? AND id = ?
	`, runID, taskID)

	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q in run %q: %w", taskID, runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	deps, err := s.dependencies(ctx, runID, taskID)
	if err != nil {
		return nil, err
	}
	rec.DependsOn = deps
	return rec, nil
}

// ListTasks retrieves every task of a run in submission order.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, taskColumns+`
		FROM tasks
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var records []*TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	// Load dependencies after closing the task cursor
	for _, rec := range records {
		deps, err := s.dependencies(ctx, runID, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.DependsOn = deps
	}

	return records, nil
}

// History retrieves a task's transitions in the order they were recorded.
// Returns empty slice (not nil) if no history exists.
func (s *SQLiteStore) History(ctx context.Context, runID, taskID string) ([]orchestrator.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, from_status, to_status, priority, detail, at
		FROM transitions
		WHERE run_id = ? AND task_id = ?
		ORDER BY id ASC
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []orchestrator.Transition{}
	for rows.Next() {
		var (
			tr       orchestrator.Transition
			from, to string
			detail   sql.NullString
		)
		if err := rows.Scan(&tr.TaskID, &from, &to, &tr.Priority, &detail, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.From, _ = scheduler.ParseStatus(from)
		tr.To, _ = scheduler.ParseStatus(to)
		tr.Detail = detail.String
		history = append(history, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}

const taskColumns = `
	SELECT run_id, id, seq, description, tags, failure_condition, resources, timeout_ms, supersedes, priority, status, error, submitted_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*TaskRecord, error) {
	var (
		rec                                            TaskRecord
		seq, timeoutMS                                 int64
		tags, condition, resources, supersedes, errStr sql.NullString
		status                                         string
	)
	err := row.Scan(&rec.RunID, &rec.ID, &seq, &rec.Description, &tags, &condition, &resources,
		&timeoutMS, &supersedes, &rec.Priority, &status, &errStr, &rec.SubmittedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Seq = uint64(seq)
	rec.Timeout = time.Duration(timeoutMS) * time.Millisecond
	rec.Condition = condition.String
	rec.Supersedes = supersedes.String
	rec.Error = errStr.String
	rec.Status, _ = scheduler.ParseStatus(status)
	if tags.String != "" {
		rec.Tags = strings.Split(tags.String, ",")
	}
	if resources.Valid && resources.String != "" && resources.String != "null" {
		if err := json.Unmarshal([]byte(resources.String), &rec.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources: %w", err)
		}
	}
	return &rec, nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, runID, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE run_id = ? AND task_id = ?
		ORDER BY depends_on_id ASC
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}
