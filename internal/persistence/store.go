// Package persistence stores run history in SQLite: the tasks each run
// submitted, every status transition, and a summary of every cycle.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/aristath/taskcore/internal/orchestrator"
)

// Store is a run journal that can also be queried.
type Store interface {
	orchestrator.Journal

	GetTask(ctx context.Context, runID, taskID string) (*TaskRecord, error)
	ListTasks(ctx context.Context, runID string) ([]*TaskRecord, error)
	History(ctx context.Context, runID, taskID string) ([]orchestrator.Transition, error)
	Cycles(ctx context.Context, runID string) ([]CycleRecord, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// writeMu serializes writers; workers journal concurrently
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite applies _pragma parameters to every new connection
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

var memoryStores atomic.Uint64

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named shared-cache database, so its connections
// see the same data while separate stores stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:taskcore-mem-%d?mode=memory&cache=shared", memoryStores.Add(1))
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Allow 2 connections: one for primary queries, one for subqueries
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
