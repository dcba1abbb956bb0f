// Package service implements the reports domain: gated query execution and asynchronous PDF export.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenantpool"
)

// DefaultMaxHTMLBytes caps export payloads.
const DefaultMaxHTMLBytes = 5 << 20

// PoolSource hands out tenant pools. Implemented by tenantpool.Broker.
type PoolSource interface {
	Get(ctx context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (tenantpool.Pool, error)
}

// ExportInput is a request to render HTML to PDF.
type ExportInput struct {
	HTML     string
	ReportID string
}

// JobStatus is the caller-facing view of a render job.
type JobStatus struct {
	ID        string
	ReportID  string
	State     jobqueue.State
	Progress  int
	PDFData   string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service defines the business operations for the reports domain.
type Service interface {
	Execute(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, req QueryRequest) (QueryResult, error)
	Export(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, input ExportInput) (string, error)
	Status(ctx context.Context, caller platformauth.CallerIdentity, jobID string) (JobStatus, error)
}

// Options wires the reports service.
type Options struct {
	Executor     *Executor
	Pools        PoolSource
	Credentials  platformauth.CredentialSet
	Queue        jobqueue.Queue
	MaxHTMLBytes int
	Logger       *zap.Logger
}

type service struct {
	executor     *Executor
	pools        PoolSource
	credentials  platformauth.CredentialSet
	queue        jobqueue.Queue
	maxHTMLBytes int
	logger       *zap.Logger
}

// New constructs a reports Service.
func New(opts Options) Service {
	if opts.Executor == nil {
		panic("reports executor is required")
	}
	if opts.Pools == nil {
		panic("reports pool source is required")
	}
	if opts.Queue == nil {
		panic("reports job queue is required")
	}
	if opts.MaxHTMLBytes <= 0 {
		opts.MaxHTMLBytes = DefaultMaxHTMLBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &service{
		executor:     opts.Executor,
		pools:        opts.Pools,
		credentials:  opts.Credentials,
		queue:        opts.Queue,
		maxHTMLBytes: opts.MaxHTMLBytes,
		logger:       opts.Logger,
	}
}

func (s *service) Execute(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, req QueryRequest) (QueryResult, error) {
	credential := s.credentials.For(caller.Role)

	pool, err := s.pools.Get(ctx, info, credential)
	if err != nil {
		return QueryResult{}, err
	}

	return s.executor.Execute(ctx, pool, req)
}

func (s *service) Export(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, input ExportInput) (string, error) {
	if strings.TrimSpace(input.HTML) == "" {
		return "", apperrors.Validation("htmlContent is required", "")
	}
	if len(input.HTML) > s.maxHTMLBytes {
		return "", apperrors.Validation(
			fmt.Sprintf("htmlContent exceeds %d bytes", s.maxHTMLBytes),
			"inline fewer assets or split the report",
		)
	}

	id, err := s.queue.Enqueue(ctx, jobqueue.NewJob{
		TenantID:   caller.TenantID,
		TenantSlug: info.Slug,
		ReportID:   strings.TrimSpace(input.ReportID),
		HTML:       input.HTML,
	})
	if err != nil {
		return "", apperrors.Upstream("render queue unavailable", err)
	}

	platformlogging.Ctx(ctx, s.logger).Info("render job enqueued",
		zap.String("job_id", id),
		zap.Int("html_bytes", len(input.HTML)),
	)
	return id, nil
}

func (s *service) Status(ctx context.Context, caller platformauth.CallerIdentity, jobID string) (JobStatus, error) {
	job, err := s.queue.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			return JobStatus{}, apperrors.NotFound("render job not found")
		}
		return JobStatus{}, apperrors.Upstream("render queue unavailable", err)
	}

	// Jobs of other tenants are indistinguishable from unknown ids.
	if job.TenantID != caller.TenantID {
		return JobStatus{}, apperrors.NotFound("render job not found")
	}

	return JobStatus{
		ID:        job.ID,
		ReportID:  job.ReportID,
		State:     job.State,
		Progress:  job.Progress,
		PDFData:   job.Result,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}
