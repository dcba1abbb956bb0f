package service

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	"github.com/zenGate-Global/palmyra-reports/platform/go/renderer"
	"github.com/zenGate-Global/palmyra-reports/platform/go/storage"
)

type fakeRenderer struct {
	renderFn func(ctx context.Context, html string) ([]byte, error)
	healthy  atomic.Bool
}

func (f *fakeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	return f.renderFn(ctx, html)
}
func (f *fakeRenderer) Healthy() bool { return f.healthy.Load() }
func (f *fakeRenderer) Close() error  { return nil }

func pdfRenderer(ctx context.Context, html string) ([]byte, error) {
	return []byte("%PDF-1.7\n" + html), nil
}

func newRendererPool(t *testing.T, maxSize int32, renderFn func(ctx context.Context, html string) ([]byte, error)) (*renderer.Pool[renderer.Renderer], *atomic.Int64) {
	t.Helper()
	destroyed := &atomic.Int64{}
	pool, err := renderer.NewPool(context.Background(), renderer.PoolConfig[renderer.Renderer]{
		Factory: func(context.Context) (renderer.Renderer, error) {
			r := &fakeRenderer{renderFn: renderFn}
			r.healthy.Store(true)
			return r, nil
		},
		Destroy: func(renderer.Renderer) { destroyed.Add(1) },
		Healthy: func(r renderer.Renderer) bool { return r.Healthy() },
		MaxSize: maxSize,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, destroyed
}

// progressRecorder remembers every progress checkpoint written for a job.
type progressRecorder struct {
	jobqueue.Queue
	mu       sync.Mutex
	progress map[string][]int
}

func newProgressRecorder(q jobqueue.Queue) *progressRecorder {
	return &progressRecorder{Queue: q, progress: map[string][]int{}}
}

func (r *progressRecorder) SetProgress(ctx context.Context, id string, p int) error {
	if err := r.Queue.SetProgress(ctx, id, p); err != nil {
		return err
	}
	r.mu.Lock()
	r.progress[id] = append(r.progress[id], p)
	r.mu.Unlock()
	return nil
}

func (r *progressRecorder) seen(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress[id]...)
}

func claim(t *testing.T, q jobqueue.Queue, html string) jobqueue.Job {
	t.Helper()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, jobqueue.NewJob{TenantID: 1, TenantSlug: "acme", HTML: html})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestWorkersCompleteJob(t *testing.T) {
	queue := newProgressRecorder(jobqueue.NewMemoryQueue(jobqueue.Config{}))
	pool, _ := newRendererPool(t, 5, pdfRenderer)

	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	workers := NewWorkers(queue, pool, store, WorkerConfig{}, zaptest.NewLogger(t))
	job := claim(t, queue, "<h1>hello</h1>")
	workers.Process(context.Background(), job)

	status, err := queue.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateCompleted, status.State)
	require.Equal(t, 100, status.Progress)
	require.Equal(t, []int{ProgressAccepted, ProgressAcquired, ProgressRendered, ProgressDone}, queue.seen(job.ID))

	pdf, err := base64.StdEncoding.DecodeString(status.Result)
	require.NoError(t, err)
	require.Equal(t, "%PDF-", string(pdf[:5]))

	archived, err := os.ReadFile(filepath.Join(dir, "acme", "reports", job.ID+".pdf"))
	require.NoError(t, err)
	require.Equal(t, pdf, archived)

	stat := pool.Stat()
	require.EqualValues(t, 0, stat.Acquired)
	require.EqualValues(t, 1, stat.Idle)
}

func TestWorkersFailedRenderReleasesRenderer(t *testing.T) {
	queue := newProgressRecorder(jobqueue.NewMemoryQueue(jobqueue.Config{}))
	pool, destroyed := newRendererPool(t, 5, func(context.Context, string) ([]byte, error) {
		return nil, errors.New("malformed document")
	})

	workers := NewWorkers(queue, pool, nil, WorkerConfig{}, zaptest.NewLogger(t))
	job := claim(t, queue, "<html")
	workers.Process(context.Background(), job)

	status, err := queue.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateFailed, status.State)
	require.Equal(t, "malformed document", status.Error)
	require.Equal(t, []int{ProgressAccepted, ProgressAcquired}, queue.seen(job.ID))

	stat := pool.Stat()
	require.EqualValues(t, 0, stat.Acquired)
	require.EqualValues(t, 1, stat.Idle)
	require.EqualValues(t, 0, destroyed.Load())
}

func TestWorkersCrashedRendererIsDestroyed(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{})

	var crashed atomic.Bool
	pool, destroyed := newRendererPool(t, 5, nil)
	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	r := lease.Value().(*fakeRenderer)
	r.renderFn = func(context.Context, string) ([]byte, error) {
		crashed.Store(true)
		r.healthy.Store(false)
		return nil, errors.New("target closed")
	}
	lease.Release()

	workers := NewWorkers(queue, pool, nil, WorkerConfig{}, zaptest.NewLogger(t))
	job := claim(t, queue, "<p/>")
	workers.Process(context.Background(), job)

	require.True(t, crashed.Load())
	status, err := queue.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateFailed, status.State)
	require.Eventually(t, func() bool { return destroyed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pool.Stat().Total == 0 }, time.Second, 5*time.Millisecond)
}

func TestWorkersRenderTimeout(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{})
	pool, _ := newRendererPool(t, 5, func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	workers := NewWorkers(queue, pool, nil, WorkerConfig{RenderTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	job := claim(t, queue, "<p/>")
	workers.Process(context.Background(), job)

	status, err := queue.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateFailed, status.State)
	require.Contains(t, status.Error, "render exceeded time limit")
	require.EqualValues(t, 0, pool.Stat().Acquired)
}

func TestWorkersJobTimeoutWaitingForRenderer(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{})
	pool, _ := newRendererPool(t, 1, pdfRenderer)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	workers := NewWorkers(queue, pool, nil, WorkerConfig{JobTimeout: 30 * time.Millisecond}, zaptest.NewLogger(t))
	job := claim(t, queue, "<p/>")
	workers.Process(context.Background(), job)

	status, err := queue.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StateFailed, status.State)
	require.Equal(t, "timed out waiting for a renderer", status.Error)
	require.Equal(t, ProgressAccepted, status.Progress)
}

func TestWorkersRunBoundsConcurrency(t *testing.T) {
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{})

	var inflight, peak atomic.Int64
	pool, _ := newRendererPool(t, 5, func(ctx context.Context, html string) ([]byte, error) {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return pdfRenderer(ctx, html)
	})

	workers := NewWorkers(queue, pool, nil, WorkerConfig{Concurrency: 2}, zaptest.NewLogger(t))

	ids := make([]string, 0, 6)
	for range 6 {
		id, err := queue.Enqueue(context.Background(), jobqueue.NewJob{TenantID: 1, TenantSlug: "acme", HTML: "<p/>"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- workers.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := queue.Status(context.Background(), id)
			if err != nil || job.State != jobqueue.StateCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}

	require.LessOrEqual(t, peak.Load(), int64(2))
	require.LessOrEqual(t, pool.Stat().Total, int32(2))
}
