package store

import (
	"context"
	"time"
)

// =============================================================================
// Run Types
// =============================================================================

// RunStatus is the lifecycle status of a recorded run.
type RunStatus string

const (
	// RunStatusReady means every service of the run reached Ready.
	RunStatusReady RunStatus = "ready"
	// RunStatusDegraded means some services failed or were never started.
	RunStatusDegraded RunStatus = "degraded"
	// RunStatusStopped means the run was taken down.
	RunStatusStopped RunStatus = "stopped"
)

// Run records one `up` invocation: which services started, in which order
// and rank, and which containers back them. The stop order of a stack is the
// exact reverse of the start order recorded here.
type Run struct {
	ID         string
	Stack      string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Services   []ServiceRecord
}

// ServiceRecord is one service of a recorded run.
// Position is the index in the linear start order; Rank the topological rank.
type ServiceRecord struct {
	Name        string
	Rank        int
	Position    int
	ContainerID string
	Status      string
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for runs.
type Store interface {
	// CreateRun records a new run with its service records.
	CreateRun(ctx context.Context, run *Run) error

	// UpdateRun updates a run's status, finish time and service records.
	UpdateRun(ctx context.Context, run *Run) error

	// LatestRun returns the most recent run for a stack.
	// Returns ErrNotFound if the stack has never been started.
	LatestRun(ctx context.Context, stack string) (*Run, error)

	// Close releases the underlying database connection.
	Close() error
}
