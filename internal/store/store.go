package store

import (
	"context"
	"errors"
	"time"

	"surveykit/internal/estimator"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound marks a run id with no persisted run.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted estimation run: what was asked, what executed, and
// how it ended. The result rows live in their own table.
type Run struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Dataset         string    `json:"dataset"`
	Statistic       string    `json:"statistic"`
	RequestedMethod string    `json:"requested_method"`
	Method          string    `json:"method"`
	Rows            int       `json:"rows"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

// Store persists runs and result tables.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	SaveResults(ctx context.Context, runID string, results []estimator.Result) error
	GetResults(ctx context.Context, runID string) ([]estimator.Result, error)
	DeleteRun(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
