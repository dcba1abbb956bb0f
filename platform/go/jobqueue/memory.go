package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	job        Job
	expiresAt  time.Time
	leaseUntil time.Time
}

// MemoryQueue is a process-local Queue for single-instance deployments and tests.
// Expired jobs are reaped lazily and by Sweep; lapsed leases only by Sweep.
type MemoryQueue struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	jobs    map[string]*memoryEntry
	waiting []string
	notify  chan struct{}
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		jobs:   make(map[string]*memoryEntry),
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job NewJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := q.now().UTC()
	id := uuid.NewString()

	q.mu.Lock()
	q.jobs[id] = &memoryEntry{
		job: Job{
			ID:         id,
			TenantID:   job.TenantID,
			TenantSlug: job.TenantSlug,
			ReportID:   job.ReportID,
			HTML:       job.HTML,
			State:      StateWaiting,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		expiresAt: now.Add(q.cfg.WaitingTTL),
	}
	q.waiting = append(q.waiting, id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if job, ok := q.claim(); ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) claim() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	for len(q.waiting) > 0 {
		id := q.waiting[0]
		q.waiting = q.waiting[1:]

		entry, ok := q.jobs[id]
		if !ok || now.After(entry.expiresAt) {
			delete(q.jobs, id)
			continue
		}
		entry.job.State = StateActive
		entry.job.UpdatedAt = now
		entry.expiresAt = time.Time{}
		entry.leaseUntil = now.Add(q.cfg.Lease)

		if len(q.waiting) > 0 {
			select {
			case q.notify <- struct{}{}:
			default:
			}
		}
		return entry.job, true
	}
	return Job{}, false
}

func (q *MemoryQueue) SetProgress(ctx context.Context, id string, progress int) error {
	if !validProgress(progress) {
		return errProgressRange(progress)
	}
	return q.update(id, func(job *Job) error {
		if progress < job.Progress {
			return ErrProgressRegression
		}
		job.Progress = progress
		return nil
	})
}

func (q *MemoryQueue) Complete(ctx context.Context, id string, result string) error {
	return q.update(id, func(job *Job) error {
		job.State = StateCompleted
		job.Progress = 100
		job.Result = result
		job.HTML = ""
		return nil
	})
}

func (q *MemoryQueue) Fail(ctx context.Context, id string, reason string) error {
	return q.update(id, func(job *Job) error {
		job.State = StateFailed
		job.Error = reason
		job.HTML = ""
		return nil
	})
}

func (q *MemoryQueue) update(id string, fn func(job *Job) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	entry, ok := q.live(id, now)
	if !ok {
		return ErrNotFound
	}
	if entry.job.State != StateActive {
		return ErrNotActive
	}
	if err := fn(&entry.job); err != nil {
		return err
	}
	entry.job.UpdatedAt = now
	if entry.job.State.Terminal() {
		entry.expiresAt = now.Add(q.cfg.Retention)
		entry.leaseUntil = time.Time{}
	} else {
		entry.leaseUntil = now.Add(q.cfg.Lease)
	}
	return nil
}

func (q *MemoryQueue) Status(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.live(id, q.now().UTC())
	if !ok {
		return Job{}, ErrNotFound
	}
	return entry.job, nil
}

// live returns the entry for id, deleting it when expired. Callers hold mu.
func (q *MemoryQueue) live(id string, now time.Time) (*memoryEntry, bool) {
	entry, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(q.jobs, id)
		return nil, false
	}
	return entry, true
}

// Sweep drops expired jobs and fails active jobs whose lease lapsed. It returns
// how many jobs it failed.
func (q *MemoryQueue) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	reclaimed := 0
	for id, entry := range q.jobs {
		switch {
		case !entry.expiresAt.IsZero() && now.After(entry.expiresAt):
			delete(q.jobs, id)
		case entry.job.State == StateActive && now.After(entry.leaseUntil):
			entry.job.State = StateFailed
			entry.job.Error = ReasonWorkerLost
			entry.job.HTML = ""
			entry.job.UpdatedAt = now
			entry.expiresAt = now.Add(q.cfg.Retention)
			entry.leaseUntil = time.Time{}
			reclaimed++
		}
	}
	return reclaimed, nil
}
