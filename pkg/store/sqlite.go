package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jzx17/taskforge/pkg/types"

	_ "modernc.org/sqlite"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS task_results (
    task_id    TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    value      BLOB,
    error      TEXT,
    worker_id  TEXT NOT NULL,
    start_time DATETIME NOT NULL,
    end_time   DATETIME NOT NULL
)`

// SQLiteStore implements ResultStore on a SQLite database. Payloads are
// stored JSON-encoded; failure causes are stored as their message text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task_results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// StoreResult inserts a result. A duplicate task id returns
// ErrDuplicateResult without modifying the existing row.
func (s *SQLiteStore) StoreResult(ctx context.Context, result *types.TaskResult) error {
	if result == nil || result.TaskID == "" {
		return types.ErrInvalidTask
	}

	var value []byte
	if result.Value != nil {
		encoded, err := json.Marshal(result.Value)
		if err != nil {
			return fmt.Errorf("encode result payload: %w", err)
		}
		value = encoded
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_results
		 (task_id, status, value, error, worker_id, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID,
		result.Status.String(),
		value,
		result.ErrorMessage(),
		result.WorkerID,
		result.StartTime.UTC(),
		result.EndTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return types.ErrDuplicateResult
	}
	return nil
}

// GetResult returns the stored result or ErrTaskNotFound.
func (s *SQLiteStore) GetResult(ctx context.Context, taskID string) (*types.TaskResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, status, value, error, worker_id, start_time, end_time
		 FROM task_results WHERE task_id = ?`, taskID)

	var (
		result    types.TaskResult
		status    string
		value     []byte
		errMsg    string
		startTime time.Time
		endTime   time.Time
	)
	err := row.Scan(&result.TaskID, &status, &value, &errMsg, &result.WorkerID, &startTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}

	result.Status = types.ParseTaskStatus(status)
	result.StartTime = startTime
	result.EndTime = endTime
	if len(value) > 0 {
		var payload any
		if err := json.Unmarshal(value, &payload); err != nil {
			return nil, fmt.Errorf("decode result payload: %w", err)
		}
		result.Value = payload
	}
	if errMsg != "" {
		result.Err = errors.New(errMsg)
	}

	return &result, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ types.ResultStore = (*SQLiteStore)(nil)
