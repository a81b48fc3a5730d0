package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskcore/internal/orchestrator"
)

// RunSummary describes one journaled run.
type RunSummary struct {
	ID        string
	StartedAt time.Time
	Tasks     int
	Cycles    int
}

// CycleRecord is the journaled summary of one cycle.
type CycleRecord struct {
	Cycle      int
	Promoted   int
	Dispatched []string
	Executed   int
	Errored    int
	Rerouted   int
	Cancelled  int
	Skipped    []string
	StartedAt  time.Time
	Duration   time.Duration
}

// ensureRun creates the run row on first use.
func ensureRun(ctx context.Context, tx *sql.Tx, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id must not be empty")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO runs (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, runID)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// RecordCycle stores a cycle summary. Recording the same cycle twice
// replaces the earlier entry.
func (s *SQLiteStore) RecordCycle(ctx context.Context, runID string, report orchestrator.CycleReport) error {
	// Create 5-second timeout context
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

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

	started := report.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (run_id, cycle, promoted, dispatched, executed, errored, rerouted, cancelled, skipped, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, cycle) DO UPDATE SET
			promoted = excluded.promoted,
			dispatched = excluded.dispatched,
			executed = excluded.executed,
			errored = excluded.errored,
			rerouted = excluded.rerouted,
			cancelled = excluded.cancelled,
			skipped = excluded.skipped,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms
	`, runID, report.Cycle, len(report.Promoted), strings.Join(report.Dispatched, ","),
		len(report.Executed), len(report.Errored), len(report.Rerouted), len(report.Cancelled),
		strings.Join(report.SkippedForResources, ","), started, report.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Cycles retrieves a run's cycle summaries in cycle order.
// Returns empty slice (not nil) if the run has no cycles.
func (s *SQLiteStore) Cycles(ctx context.Context, runID string) ([]CycleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle, promoted, dispatched, executed, errored, rerouted, cancelled, skipped, started_at, duration_ms
		FROM cycles
		WHERE run_id = ?
		ORDER BY cycle ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	cycles := []CycleRecord{}
	for rows.Next() {
		var (
			rec                 CycleRecord
			dispatched, skipped sql.NullString
			durationMS          int64
		)
		if err := rows.Scan(&rec.Cycle, &rec.Promoted, &dispatched, &rec.Executed, &rec.Errored,
			&rec.Rerouted, &rec.Cancelled, &skipped, &rec.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		rec.Dispatched = splitIDs(dispatched.String)
		rec.Skipped = splitIDs(skipped.String)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		cycles = append(cycles, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return cycles, nil
}

// ListRuns retrieves every journaled run, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.run_id = r.id),
			(SELECT COUNT(*) FROM cycles c WHERE c.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Tasks, &run.Cycles); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
