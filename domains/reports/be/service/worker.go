package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	"github.com/zenGate-Global/palmyra-reports/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-reports/platform/go/renderer"
	"github.com/zenGate-Global/palmyra-reports/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-reports/platform/go/storage"
)

const (
	DefaultRenderConcurrency = 2
	DefaultRenderTimeout     = 15 * time.Second
	DefaultJobTimeout        = 60 * time.Second
)

// Checkpoints reported while a job is active.
const (
	ProgressAccepted = 10
	ProgressAcquired = 30
	ProgressRendered = 90
	ProgressDone     = 100
)

const (
	bookkeepingTimeout = 5 * time.Second
	dequeueBackoff     = time.Second
)

// WorkerConfig bounds the render worker pool.
type WorkerConfig struct {
	Concurrency   int
	RenderTimeout time.Duration
	JobTimeout    time.Duration
	// Bucket and EnvKey locate archived PDFs when a store is configured.
	Bucket string
	EnvKey string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultRenderConcurrency
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// Workers pull render jobs off the queue and drive them through a shared renderer pool.
type Workers struct {
	queue     jobqueue.Queue
	renderers *renderer.Pool[renderer.Renderer]
	store     storage.ArtifactStore
	cfg       WorkerConfig
	logger    *zap.Logger
}

// NewWorkers builds the worker pool. store may be nil to skip archiving.
func NewWorkers(queue jobqueue.Queue, renderers *renderer.Pool[renderer.Renderer], store storage.ArtifactStore, cfg WorkerConfig, logger *zap.Logger) *Workers {
	if queue == nil {
		panic("render workers: queue is required")
	}
	if renderers == nil {
		panic("render workers: renderer pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workers{
		queue:     queue,
		renderers: renderers,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run processes jobs on Concurrency slots until ctx is cancelled. A job in flight at
// cancellation is finished within its own deadline.
func (w *Workers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for slot := range w.cfg.Concurrency {
		g.Go(func() error {
			w.loop(ctx, slot)
			return nil
		})
	}
	return g.Wait()
}

func (w *Workers) loop(ctx context.Context, slot int) {
	logger := w.logger.With(zap.Int("worker_slot", slot))
	logger.Debug("render worker started")
	defer logger.Debug("render worker stopped")

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// Process drives one claimed job to a terminal state.
func (w *Workers) Process(ctx context.Context, job jobqueue.Job) {
	start := time.Now()
	audit := requesttrace.System(job.ID)
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.Int64("tenant_id", job.TenantID),
		zap.String("actor_kind", string(audit.ActorKind)),
	)

	base := requesttrace.IntoContext(context.WithoutCancel(ctx), audit)
	jobCtx, cancel := context.WithTimeout(base, w.cfg.JobTimeout)
	defer cancel()

	pdf, err := w.render(jobCtx, job, logger)
	if err != nil {
		w.fail(base, job, err, logger)
		return
	}

	w.archive(jobCtx, job, pdf, logger)

	encoded := base64.StdEncoding.EncodeToString(pdf)
	w.progress(base, job.ID, ProgressDone, logger)

	bctx, bcancel := context.WithTimeout(base, bookkeepingTimeout)
	defer bcancel()
	if err := w.queue.Complete(bctx, job.ID, encoded); err != nil {
		logger.Error("failed to record completed render job", zap.Error(err))
		metrics.RenderJobs.WithLabelValues("lost").Inc()
		return
	}

	metrics.RenderJobs.WithLabelValues(string(jobqueue.StateCompleted)).Inc()
	logger.Info("render job completed",
		zap.Int("pdf_bytes", len(pdf)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (w *Workers) render(ctx context.Context, job jobqueue.Job, logger *zap.Logger) ([]byte, error) {
	w.progress(ctx, job.ID, ProgressAccepted, logger)

	lease, err := w.renderers.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New("timed out waiting for a renderer")
		}
		return nil, fmt.Errorf("acquire renderer: %w", err)
	}
	defer lease.Release()

	w.progress(ctx, job.ID, ProgressAcquired, logger)

	renderCtx, cancel := context.WithTimeout(ctx, w.cfg.RenderTimeout)
	defer cancel()

	start := time.Now()
	pdf, err := lease.Value().RenderPDF(renderCtx, job.HTML)
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("render exceeded time limit of %s", w.cfg.RenderTimeout)
		}
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, errors.New("renderer returned an empty document")
	}

	w.progress(ctx, job.ID, ProgressRendered, logger)
	return pdf, nil
}

func (w *Workers) progress(ctx context.Context, id string, p int, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := w.queue.SetProgress(ctx, id, p); err != nil {
		logger.Warn("failed to record render progress", zap.Int("progress", p), zap.Error(err))
		return
	}
	logger.Debug("render progress", zap.Int("progress", p))
}

func (w *Workers) fail(ctx context.Context, job jobqueue.Job, cause error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	metrics.RenderJobs.WithLabelValues(string(jobqueue.StateFailed)).Inc()
	logger.Warn("render job failed", zap.Error(cause))

	if err := w.queue.Fail(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("failed to record failed render job", zap.Error(err))
	}
}

func (w *Workers) archive(ctx context.Context, job jobqueue.Job, pdf []byte, logger *zap.Logger) {
	if w.store == nil {
		return
	}

	loc, err := storage.ResolveObjectLocation(w.cfg.Bucket, w.cfg.EnvKey, job.TenantSlug, storage.ReportKey(job.ID))
	if err != nil {
		logger.Warn("render archive skipped", zap.Error(err))
		return
	}

	uri, err := w.store.Put(ctx, loc, storage.ContentTypePDF, pdf)
	if err != nil {
		logger.Warn("render archive failed", zap.Error(err))
		return
	}
	logger.Info("render archived", zap.String("uri", uri))
}
