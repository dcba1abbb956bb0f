package tenantpool

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

type fakePool struct {
	id     int64
	closed atomic.Bool
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (p *fakePool) Ping(ctx context.Context) error { return nil }

func (p *fakePool) Close() { p.closed.Store(true) }

func countingDialer(delay time.Duration) (Dialer, *atomic.Int64) {
	var dials atomic.Int64
	return func(ctx context.Context, target Target) (Pool, error) {
		n := dials.Add(1)
		time.Sleep(delay)
		return &fakePool{id: n}, nil
	}, &dials
}

var (
	acme     = tenant.ConnectionInfo{TenantID: 1, Slug: "acme", Host: "db.acme", Port: 5432, Database: "reports"}
	readCred = platformauth.Credential{User: "report_ro", Password: "x", ReadOnly: true}
	rwCred   = platformauth.Credential{User: "report_rw", Password: "y"}
)

func TestBrokerConcurrentFirstUseCreatesOnePool(t *testing.T) {
	dial, dials := countingDialer(50 * time.Millisecond)
	broker := NewBroker(dial, Config{}, zaptest.NewLogger(t))
	t.Cleanup(broker.Close)

	const callers = 32
	pools := make([]Pool, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			pools[i], errs[i] = broker.Get(context.Background(), acme, readCred)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), dials.Load())
	require.Equal(t, int64(1), broker.Created())
	require.Equal(t, 1, broker.Len())
	for i, p := range pools {
		require.NoError(t, errs[i])
		require.Same(t, pools[0], p)
	}
}

func TestBrokerKeysByCredential(t *testing.T) {
	dial, dials := countingDialer(0)
	broker := NewBroker(dial, Config{}, zaptest.NewLogger(t))
	t.Cleanup(broker.Close)

	ro, err := broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)
	rw, err := broker.Get(context.Background(), acme, rwCred)
	require.NoError(t, err)
	again, err := broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)

	require.NotSame(t, ro, rw)
	require.Same(t, ro, again)
	require.Equal(t, int64(2), dials.Load())
}

func TestBrokerDialFailureIsUpstreamAndNotCached(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context, target Target) (Pool, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("dial tcp: i/o timeout")
		}
		return &fakePool{}, nil
	}
	broker := NewBroker(dial, Config{}, zaptest.NewLogger(t))
	t.Cleanup(broker.Close)

	_, err := broker.Get(context.Background(), acme, readCred)
	require.Equal(t, apperrors.CategoryUpstream, apperrors.CategoryOf(err))
	require.Zero(t, broker.Len())

	_, err = broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)
	require.Equal(t, 1, broker.Len())
}

func TestBrokerSupersedeClose(t *testing.T) {
	dial, _ := countingDialer(0)
	broker := NewBroker(dial, Config{Superseded: SupersededClose}, zaptest.NewLogger(t))

	old, err := broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)
	_, err = broker.Get(context.Background(), acme, rwCred)
	require.NoError(t, err)

	switched := acme
	switched.Database = "reports_2026"
	fresh, err := broker.Get(context.Background(), switched, readCred)
	require.NoError(t, err)

	require.Equal(t, 2, broker.Supersede(acme))
	require.Equal(t, 1, broker.Len())

	require.Eventually(t, func() bool { return old.(*fakePool).closed.Load() }, time.Second, 10*time.Millisecond)
	require.False(t, fresh.(*fakePool).closed.Load())

	broker.Close()
	require.True(t, fresh.(*fakePool).closed.Load())
}

func TestBrokerSupersedeDuringDialDiscardsPool(t *testing.T) {
	dialling := make(chan struct{})
	release := make(chan struct{})
	var dialled []*fakePool
	var mu sync.Mutex
	dial := func(ctx context.Context, target Target) (Pool, error) {
		pool := &fakePool{}
		mu.Lock()
		dialled = append(dialled, pool)
		first := len(dialled) == 1
		mu.Unlock()
		if first {
			close(dialling)
			<-release
		}
		return pool, nil
	}
	broker := NewBroker(dial, Config{Superseded: SupersededClose}, zaptest.NewLogger(t))
	t.Cleanup(broker.Close)

	errs := make(chan error, 1)
	go func() {
		_, err := broker.Get(context.Background(), acme, readCred)
		errs <- err
	}()

	<-dialling
	require.Zero(t, broker.Supersede(acme))
	close(release)

	err := <-errs
	require.ErrorIs(t, err, ErrSuperseded)
	require.Equal(t, apperrors.CategoryUpstream, apperrors.CategoryOf(err))
	require.Zero(t, broker.Len())
	require.True(t, dialled[0].closed.Load())

	// The next request dials again and keeps its pool.
	pool, err := broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)
	require.Equal(t, 1, broker.Len())
	require.False(t, pool.(*fakePool).closed.Load())
}

func TestBrokerSupersedeRetain(t *testing.T) {
	dial, _ := countingDialer(0)
	broker := NewBroker(dial, Config{Superseded: SupersededRetain}, zaptest.NewLogger(t))
	t.Cleanup(broker.Close)

	old, err := broker.Get(context.Background(), acme, readCred)
	require.NoError(t, err)

	require.Zero(t, broker.Supersede(acme))
	require.Equal(t, 1, broker.Len())
	require.False(t, old.(*fakePool).closed.Load())
}

func TestBrokerClosedRejectsGet(t *testing.T) {
	dial, _ := countingDialer(0)
	broker := NewBroker(dial, Config{}, zaptest.NewLogger(t))
	broker.Close()

	_, err := broker.Get(context.Background(), acme, readCred)
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnString(t *testing.T) {
	raw := ConnString(Target{Info: acme, Credential: readCred}, DialerConfig{ConnectTimeout: 10 * time.Second, ApplicationName: "palmyra-reports"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "db.acme:5432", u.Host)
	require.Equal(t, "/reports", u.Path)
	require.Equal(t, "report_ro", u.User.Username())
	require.Equal(t, "10", u.Query().Get("connect_timeout"))
	require.Equal(t, "on", u.Query().Get("default_transaction_read_only"))
	require.Equal(t, "prefer", u.Query().Get("sslmode"))

	raw = ConnString(Target{Info: acme, Credential: rwCred}, DialerConfig{SSLMode: "require"})
	u, err = url.Parse(raw)
	require.NoError(t, err)
	require.Empty(t, u.Query().Get("default_transaction_read_only"))
	require.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestParseSupersededPolicy(t *testing.T) {
	p, err := ParseSupersededPolicy("")
	require.NoError(t, err)
	require.Equal(t, SupersededClose, p)

	p, err = ParseSupersededPolicy("retain")
	require.NoError(t, err)
	require.Equal(t, SupersededRetain, p)

	_, err = ParseSupersededPolicy("leak")
	require.Error(t, err)
}
