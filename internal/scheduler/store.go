package scheduler

import (
	"context"
	"time"
)

// Store persists scheduler jobs.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	Update(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error

	// RecordRun stores the outcome of a fired job.
	RecordRun(ctx context.Context, id string, status string, at time.Time) error
}
