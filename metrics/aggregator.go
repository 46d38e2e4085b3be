// ABOUTME: Append-only cost ledger: one record per phase-execution attempt, successful or not.
// ABOUTME: SQLite-backed, with read-side aggregation by phase, by provider, and projected monthly spend.

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Outcome classifies one provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// CostRecord is one immutable record per phase-execution attempt. Failed
// attempts are recorded too; they are never merged into a later success.
type CostRecord struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	Phase         string    `json:"phase"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	EstimatedCost float64   `json:"estimated_cost"`
	ActualCost    *float64  `json:"actual_cost,omitempty"` // nil until the call completes
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Outcome       Outcome   `json:"outcome"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recorder is the write side consumed by the router.
type Recorder interface {
	Record(ctx context.Context, rec CostRecord) error
}

// Aggregator persists cost records and answers aggregation queries.
type Aggregator struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates the cost ledger at path. Use ":memory:" for tests.
func Open(path string) (*Aggregator, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}
	// Single connection: serialized writes, and ":memory:" stays one
	// database across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS cost_records (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			estimated_cost REAL NOT NULL,
			actual_cost REAL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cost_task ON cost_records(task_id);
		CREATE INDEX IF NOT EXISTS idx_cost_created ON cost_records(created_at);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cost schema: %w", err)
	}

	return &Aggregator{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (a *Aggregator) Close() error {
	return a.db.Close()
}

func (a *Aggregator) newID(now time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), a.entropy).String()
}

// Record appends one attempt record. The record's ID and timestamp are
// assigned here when unset.
func (a *Aggregator) Record(ctx context.Context, rec CostRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = a.newID(rec.CreatedAt)
	}
	var actual any
	if rec.ActualCost != nil {
		actual = *rec.ActualCost
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO cost_records
			(id, task_id, phase, provider, model, estimated_cost, actual_cost,
			 input_tokens, output_tokens, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskID, rec.Phase, rec.Provider, rec.Model,
		rec.EstimatedCost, actual, rec.InputTokens, rec.OutputTokens,
		string(rec.Outcome), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record cost attempt: %w", err)
	}
	return nil
}

// billedExpr sums what was actually charged: the actual cost when present,
// zero otherwise. Estimates are never billed.
const billedExpr = "COALESCE(SUM(COALESCE(actual_cost, 0)), 0)"

// CostByPhase returns billed cost per phase across all records.
func (a *Aggregator) CostByPhase(ctx context.Context) (map[string]float64, error) {
	return a.groupedCost(ctx, "phase")
}

// CostByProvider returns billed cost per provider across all records.
func (a *Aggregator) CostByProvider(ctx context.Context) (map[string]float64, error) {
	return a.groupedCost(ctx, "provider")
}

func (a *Aggregator) groupedCost(ctx context.Context, column string) (map[string]float64, error) {
	rows, err := a.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, %s FROM cost_records GROUP BY %s", column, billedExpr, column))
	if err != nil {
		return nil, fmt.Errorf("aggregate cost by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var key string
		var total float64
		if err := rows.Scan(&key, &total); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		out[key] = total
	}
	return out, rows.Err()
}

// TaskCost returns the billed cost of one task.
func (a *Aggregator) TaskCost(ctx context.Context, taskID string) (float64, error) {
	var total float64
	err := a.db.QueryRowContext(ctx,
		"SELECT "+billedExpr+" FROM cost_records WHERE task_id = ?", taskID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum task cost: %w", err)
	}
	return total, nil
}

// ProjectedMonthlySpend computes daily average spend over the current
// billing period (the calendar month containing now) times 30.
func (a *Aggregator) ProjectedMonthlySpend(ctx context.Context, now time.Time) (float64, error) {
	now = now.UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var total float64
	err := a.db.QueryRowContext(ctx,
		"SELECT "+billedExpr+" FROM cost_records WHERE created_at >= ?",
		periodStart.Format(time.RFC3339Nano),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum billing period: %w", err)
	}

	daysElapsed := now.Sub(periodStart).Hours() / 24
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	return total / daysElapsed * 30, nil
}

// WouldExceedBudget reports whether adding estimatedCost to the projected
// monthly spend crosses the ceiling. A zero ceiling means no budget is set.
func (a *Aggregator) WouldExceedBudget(ctx context.Context, estimatedCost, ceiling float64, now time.Time) (bool, error) {
	if ceiling <= 0 {
		return false, nil
	}
	projected, err := a.ProjectedMonthlySpend(ctx, now)
	if err != nil {
		return false, err
	}
	return projected+estimatedCost > ceiling, nil
}
