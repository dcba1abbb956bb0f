package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenantpool"
)

var acmeInfo = tenant.ConnectionInfo{TenantID: 1, Slug: "acme", Host: "db.acme.internal", Port: 5432, Database: "acme"}

func testCredentials(t *testing.T) platformauth.CredentialSet {
	t.Helper()
	creds, err := platformauth.NewCredentialSet("reader", "r-secret", "writer", "w-secret")
	require.NoError(t, err)
	return creds
}

func newTestService(t *testing.T, pools PoolSource, queue jobqueue.Queue, maxHTML int) Service {
	t.Helper()
	return New(Options{
		Executor:     NewExecutor(fakeValidator{}, ExecutorConfig{}, zaptest.NewLogger(t)),
		Pools:        pools,
		Credentials:  testCredentials(t),
		Queue:        queue,
		MaxHTMLBytes: maxHTML,
		Logger:       zaptest.NewLogger(t),
	})
}

func TestServiceExecuteSelectsCredentialByRole(t *testing.T) {
	var users []string
	pools := fakePoolSource{getFn: func(_ context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (tenantpool.Pool, error) {
		require.Equal(t, acmeInfo, info)
		users = append(users, credential.User)
		return &fakePool{
			queryRowFn: countRow(0),
			queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
				return &fakeRows{columns: []string{"x"}}, nil
			},
		}, nil
	}}

	svc := newTestService(t, pools, jobqueue.NewMemoryQueue(jobqueue.Config{}), 0)
	for _, role := range []platformauth.Role{platformauth.RolePrivileged, platformauth.RoleStandard, platformauth.RoleReadOnly} {
		_, err := svc.Execute(context.Background(), platformauth.CallerIdentity{TenantID: 1, Role: role}, acmeInfo, QueryRequest{SQL: "SELECT 1 AS x"})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"writer", "reader", "reader"}, users)
}

func TestServiceExecutePoolFailure(t *testing.T) {
	pools := fakePoolSource{getFn: func(context.Context, tenant.ConnectionInfo, platformauth.Credential) (tenantpool.Pool, error) {
		return nil, apperrors.Upstream("tenant database unavailable", errors.New("dial tcp: i/o timeout"))
	}}

	svc := newTestService(t, pools, jobqueue.NewMemoryQueue(jobqueue.Config{}), 0)
	_, err := svc.Execute(context.Background(), platformauth.CallerIdentity{TenantID: 1, Role: platformauth.RoleStandard}, acmeInfo, QueryRequest{SQL: "SELECT 1"})
	require.True(t, apperrors.Is(err, apperrors.CategoryUpstream))
}

func TestServiceExportAndStatus(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{})
	svc := newTestService(t, fakePoolSource{}, queue, 64)
	caller := platformauth.CallerIdentity{TenantID: 1, Role: platformauth.RoleStandard}

	id, err := svc.Export(context.Background(), caller, acmeInfo, ExportInput{HTML: "<p>ok</p>", ReportID: " rpt-9 "})
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), caller, id)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateWaiting, status.State)
	require.Equal(t, 0, status.Progress)
	require.Equal(t, "rpt-9", status.ReportID)

	job, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "acme", job.TenantSlug)

	other := platformauth.CallerIdentity{TenantID: 2, Role: platformauth.RolePrivileged}
	_, err = svc.Status(context.Background(), other, id)
	require.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = svc.Status(context.Background(), caller, "missing")
	require.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
}

func TestServiceExportValidation(t *testing.T) {
	svc := newTestService(t, fakePoolSource{}, jobqueue.NewMemoryQueue(jobqueue.Config{}), 16)
	caller := platformauth.CallerIdentity{TenantID: 1}

	_, err := svc.Export(context.Background(), caller, acmeInfo, ExportInput{HTML: "   "})
	require.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = svc.Export(context.Background(), caller, acmeInfo, ExportInput{HTML: strings.Repeat("x", 17)})
	require.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

type failingQueue struct {
	jobqueue.Queue
	err error
}

func (f failingQueue) Enqueue(context.Context, jobqueue.NewJob) (string, error) { return "", f.err }
func (f failingQueue) Status(context.Context, string) (jobqueue.Job, error)    { return jobqueue.Job{}, f.err }

func TestServiceQueueFailuresAreUpstream(t *testing.T) {
	svc := newTestService(t, fakePoolSource{}, failingQueue{err: errors.New("redis: connection refused")}, 0)
	caller := platformauth.CallerIdentity{TenantID: 1}

	_, err := svc.Export(context.Background(), caller, acmeInfo, ExportInput{HTML: "<p/>"})
	require.True(t, apperrors.Is(err, apperrors.CategoryUpstream))

	_, err = svc.Status(context.Background(), caller, "id")
	require.True(t, apperrors.Is(err, apperrors.CategoryUpstream))
}
