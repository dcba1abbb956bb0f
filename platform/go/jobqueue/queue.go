// Package jobqueue stores render jobs and their lifecycle. The queue is the single
// source of truth for job state; pollers read snapshots.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrNotFound is returned for unknown or reaped jobs.
	ErrNotFound = errors.New("job not found")
	// ErrNotActive is returned when a worker updates a job it does not hold.
	ErrNotActive = errors.New("job is not active")
	// ErrProgressRegression is returned when progress would decrease.
	ErrProgressRegression = errors.New("job progress may not decrease")
)

// ReasonWorkerLost is the error recorded on an active job whose lease lapsed.
const ReasonWorkerLost = "worker lost"

const (
	DefaultRetention  = time.Hour
	DefaultWaitingTTL = 24 * time.Hour
	DefaultLease      = 5 * time.Minute
)

// Config sets explicit retention for finished and unclaimed jobs.
type Config struct {
	// Retention is how long completed and failed jobs stay queryable.
	Retention time.Duration
	// WaitingTTL bounds how long an unclaimed job is kept.
	WaitingTTL time.Duration
	// Lease is how long a claimed job may go without a progress update before a
	// sweep treats its worker as lost. It must exceed the worker's job timeout.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.WaitingTTL <= 0 {
		c.WaitingTTL = DefaultWaitingTTL
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	return c
}

// NewJob is the payload accepted by Enqueue.
type NewJob struct {
	TenantID   int64
	TenantSlug string
	ReportID   string
	HTML       string
}

// Job is a snapshot of a render job. HTML is dropped once the job is terminal.
type Job struct {
	ID         string
	TenantID   int64
	TenantSlug string
	ReportID   string
	HTML       string
	State      State
	Progress   int
	Result     string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Queue is a durable FIFO of render jobs shared by every worker.
type Queue interface {
	// Enqueue stores a waiting job and returns its id immediately.
	Enqueue(ctx context.Context, job NewJob) (string, error)
	// Dequeue blocks until a waiting job is available and claims it as active.
	Dequeue(ctx context.Context) (Job, error)
	// SetProgress records progress for an active job; it never decreases.
	SetProgress(ctx context.Context, id string, progress int) error
	// Complete marks an active job completed with the encoded result and progress 100.
	Complete(ctx context.Context, id string, result string) error
	// Fail marks an active job failed with reason.
	Fail(ctx context.Context, id string, reason string) error
	// Status returns the current snapshot or ErrNotFound.
	Status(ctx context.Context, id string) (Job, error)
}

// Sweeper reclaims jobs whose worker stopped reporting progress.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func validProgress(p int) bool {
	return p >= 0 && p <= 100
}

func errProgressRange(p int) error {
	return fmt.Errorf("progress %d out of range", p)
}
