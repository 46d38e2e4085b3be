// ABOUTME: Durable task store contract: lifecycle statuses, the persisted TaskRecord, and the repository interface.
// ABOUTME: Records are the recovery source of truth; terminal statuses are never resurrected outside the recovery scan.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389-research/wordmill/pipeline"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusAwaitingRefinement Status = "awaiting_refinement"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrNotFound is returned when no task exists for an id.
var ErrNotFound = errors.New("task not found")

// PersistenceError wraps a store write failure with enough context to say
// what failed, not just that something failed.
type PersistenceError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TaskRecord is the durable projection of one task's PipelineState plus its
// lifecycle status. The State field is the full snapshot used for recovery;
// the scalar fields are query-side projections of it.
type TaskRecord struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	State         pipeline.State `json:"state"`
	Error         string         `json:"error,omitempty"`
	BudgetWarning bool           `json:"budget_warning,omitempty"`
	ClaimedBy     string         `json:"claimed_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Store is the repository interface the execution engine persists through.
// Implementations must guarantee single-writer-at-a-time per task id.
type Store interface {
	// Create inserts a new pending task record.
	Create(ctx context.Context, rec *TaskRecord) error
	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*TaskRecord, error)
	// Update overwrites the record for rec.ID.
	Update(ctx context.Context, rec *TaskRecord) error
	// List returns records, optionally filtered to non-terminal statuses.
	List(ctx context.Context, onlyActive bool) ([]*TaskRecord, error)
	// Claim atomically marks an unclaimed, non-terminal task as owned by
	// owner. Returns false when the task is already claimed or terminal, so
	// two recovery scans can never double-process one task.
	Claim(ctx context.Context, id, owner string) (bool, error)
	// TakeOver transfers a claim from a dead owner: it succeeds only when
	// the task is non-terminal and still claimed by exactly `from`. Racing
	// recovery scans observe the same stale owner, so at most one wins.
	TakeOver(ctx context.Context, id, from, to string) (bool, error)
	Close() error
}
