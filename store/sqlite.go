// ABOUTME: SQLite-backed task store with WAL journaling and per-task write serialization.
// ABOUTME: Claim is a compare-and-set UPDATE so exactly one recovery scan wins a task.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore implements Store over a single SQLite database.
type SqliteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenSqlite opens or creates the task database at path. Use ":memory:" for
// tests.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	// One connection keeps writes serialized in the driver and makes
	// ":memory:" behave as a single database across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL,
			quality_score REAL,
			refinement_count INTEGER NOT NULL DEFAULT 0,
			snapshot TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			budget_warning INTEGER NOT NULL DEFAULT 0,
			claimed_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create task schema: %w", err)
	}

	return &SqliteStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// taskLock returns the per-task write mutex, creating it on first use. All
// writes for one task id serialize through it.
func (s *SqliteStore) taskLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SqliteStore) Create(ctx context.Context, rec *TaskRecord) error {
	l := s.taskLock(rec.ID)
	l.Lock()
	defer l.Unlock()

	snapshot, err := json.Marshal(rec.State)
	if err != nil {
		return &PersistenceError{Op: "create", TaskID: rec.ID, Err: err}
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var score any
	if v := rec.State.QualityScore(); v != nil {
		score = *v
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks
			(id, status, phase, topic, quality_score, refinement_count,
			 snapshot, error, budget_warning, claimed_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Status), string(rec.State.Phase), rec.State.Topic,
		score, rec.State.Refinements, string(snapshot), rec.Error,
		boolToInt(rec.BudgetWarning), rec.ClaimedBy,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &PersistenceError{Op: "create", TaskID: rec.ID, Err: err}
	}
	log.Printf("component=store action=create task=%s status=%s", rec.ID, rec.Status)
	return nil
}

func (s *SqliteStore) Update(ctx context.Context, rec *TaskRecord) error {
	l := s.taskLock(rec.ID)
	l.Lock()
	defer l.Unlock()

	snapshot, err := json.Marshal(rec.State)
	if err != nil {
		return &PersistenceError{Op: "update", TaskID: rec.ID, Err: err}
	}
	rec.UpdatedAt = time.Now().UTC()

	var score any
	if v := rec.State.QualityScore(); v != nil {
		score = *v
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET
			status = ?, phase = ?, quality_score = ?, refinement_count = ?,
			snapshot = ?, error = ?, budget_warning = ?, claimed_by = ?, updated_at = ?
		 WHERE id = ?`,
		string(rec.Status), string(rec.State.Phase), score, rec.State.Refinements,
		string(snapshot), rec.Error, boolToInt(rec.BudgetWarning), rec.ClaimedBy,
		rec.UpdatedAt.Format(time.RFC3339Nano), rec.ID,
	)
	if err != nil {
		return &PersistenceError{Op: "update", TaskID: rec.ID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &PersistenceError{Op: "update", TaskID: rec.ID, Err: ErrNotFound}
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, snapshot, error, budget_warning, claimed_by, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *SqliteStore) List(ctx context.Context, onlyActive bool) ([]*TaskRecord, error) {
	query := `SELECT id, status, snapshot, error, budget_warning, claimed_by, created_at, updated_at
		 FROM tasks`
	if onlyActive {
		query += ` WHERE status IN ('pending', 'running', 'awaiting_refinement')`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Claim is the compare-and-set gate for recovery: it succeeds only when the
// task is non-terminal and either unclaimed or already owned by this owner.
func (s *SqliteStore) Claim(ctx context.Context, id, owner string) (bool, error) {
	l := s.taskLock(id)
	l.Lock()
	defer l.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET claimed_by = ?, updated_at = ?
		 WHERE id = ?
		   AND (claimed_by = '' OR claimed_by = ?)
		   AND status IN ('pending', 'running', 'awaiting_refinement')`,
		owner, time.Now().UTC().Format(time.RFC3339Nano), id, owner)
	if err != nil {
		return false, &PersistenceError{Op: "claim", TaskID: id, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &PersistenceError{Op: "claim", TaskID: id, Err: err}
	}
	return n == 1, nil
}

// TakeOver reassigns a claim held by a crashed owner.
func (s *SqliteStore) TakeOver(ctx context.Context, id, from, to string) (bool, error) {
	l := s.taskLock(id)
	l.Lock()
	defer l.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET claimed_by = ?, updated_at = ?
		 WHERE id = ? AND claimed_by = ?
		   AND status IN ('pending', 'running', 'awaiting_refinement')`,
		to, time.Now().UTC().Format(time.RFC3339Nano), id, from)
	if err != nil {
		return false, &PersistenceError{Op: "takeover", TaskID: id, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &PersistenceError{Op: "takeover", TaskID: id, Err: err}
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var rec TaskRecord
	var status, snapshot, created, updated string
	var warning int
	err := row.Scan(&rec.ID, &status, &snapshot, &rec.Error, &warning,
		&rec.ClaimedBy, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	rec.Status = Status(status)
	rec.BudgetWarning = warning != 0
	if err := json.Unmarshal([]byte(snapshot), &rec.State); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SqliteStore)(nil)
