package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
)

func TestExecutorWrapsAndPaginates(t *testing.T) {
	var countSQL, dataSQL string
	pool := &fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			countSQL = sql
			return countRow(15)(ctx, sql, args...)
		},
		queryFn: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			dataSQL = sql
			return &fakeRows{
				columns: []string{"id", "name"},
				values:  [][]any{{int32(11), "k"}, {int32(12), "l"}, {int32(13), "m"}, {int32(14), "n"}, {int32(15), "o"}},
			}, nil
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{}, zaptest.NewLogger(t))
	res, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT id, name FROM t ;  ", Page: 2, PageSize: 10})
	require.NoError(t, err)

	require.Equal(t, "SELECT COUNT(*) FROM (\nSELECT id, name FROM t\n) AS count_query_wrapper", countSQL)
	require.Equal(t, "SELECT * FROM (\nSELECT id, name FROM t\n) AS data_query_wrapper LIMIT 10 OFFSET 10", dataSQL)

	require.Equal(t, []string{"id", "name"}, res.Columns)
	require.Equal(t, 5, res.RowCount)
	require.Len(t, res.Rows, 5)
	require.Equal(t, "k", res.Rows[0]["name"])
	require.EqualValues(t, 15, res.TotalRows)
	require.Equal(t, 2, res.TotalPages)
	require.Equal(t, 2, res.Page)
	require.Equal(t, 10, res.PageSize)
	require.Positive(t, res.Duration)
}

func TestExecutorDefaultsPaging(t *testing.T) {
	var dataSQL string
	pool := &fakePool{
		queryRowFn: countRow(0),
		queryFn: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			dataSQL = sql
			return &fakeRows{columns: []string{"x"}}, nil
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{PageSize: 25}, nil)
	res, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT 1 AS x WHERE false"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(dataSQL, "LIMIT 25 OFFSET 0"))
	require.Equal(t, 1, res.Page)
	require.Equal(t, 25, res.PageSize)
	require.Equal(t, 0, res.TotalPages)
	require.Empty(t, res.Rows)
	require.NotNil(t, res.Rows)
}

func TestExecutorRejectsInvalidPaging(t *testing.T) {
	exec := NewExecutor(fakeValidator{}, ExecutorConfig{}, nil)
	pool := &fakePool{}

	for _, req := range []QueryRequest{
		{SQL: "SELECT 1", Page: -1},
		{SQL: "SELECT 1", PageSize: -5},
		{SQL: "SELECT 1", PageSize: 1001},
	} {
		_, err := exec.Execute(context.Background(), pool, req)
		require.True(t, apperrors.Is(err, apperrors.CategoryValidation), "request %+v", req)
	}
}

func TestExecutorPropagatesGateRejection(t *testing.T) {
	rejection := apperrors.Validation("only SELECT/read statements are allowed; statement 1 is DROP", "")
	exec := NewExecutor(fakeValidator{inspectFn: func(string) ([]sqlguard.Statement, error) { return nil, rejection }}, ExecutorConfig{}, nil)

	called := false
	pool := &fakePool{queryRowFn: func(context.Context, string, ...any) pgx.Row {
		called = true
		return nil
	}}

	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "DROP TABLE users"})
	require.ErrorIs(t, err, rejection)
	require.False(t, called)
}

func TestExecutorTimeout(t *testing.T) {
	pool := &fakePool{
		queryRowFn: countRow(1),
		queryFn: func(ctx context.Context, _ string, _ ...any) (pgx.Rows, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	res, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT pg_sleep(10)"})
	require.True(t, apperrors.Is(err, apperrors.CategoryTimeout))
	require.Contains(t, err.Error(), "query exceeded time limit")
	require.Empty(t, res.Rows)
}

func TestExecutorTimeoutAbandonsUncooperativeQuery(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	pool := &fakePool{
		queryRowFn: func(context.Context, string, ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error {
				<-release
				return nil
			}}
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{Timeout: 20 * time.Millisecond}, nil)
	start := time.Now()
	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT 1"})
	require.True(t, apperrors.Is(err, apperrors.CategoryTimeout))
	require.Less(t, time.Since(start), time.Second)
}

func TestExecutorCallerCancellationIsNotTimeout(t *testing.T) {
	pool := &fakePool{
		queryRowFn: func(ctx context.Context, _ string, _ ...any) pgx.Row {
			return fakeRow{scanFn: func(...any) error {
				<-ctx.Done()
				return ctx.Err()
			}}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{Timeout: time.Minute}, nil)
	_, err := exec.Execute(ctx, pool, QueryRequest{SQL: "SELECT 1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutorRowCeiling(t *testing.T) {
	pool := &fakePool{
		queryRowFn: countRow(4),
		queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &fakeRows{columns: []string{"n"}, values: [][]any{{1}, {2}, {3}, {4}}}, nil
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{MaxRows: 3}, nil)
	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT n FROM t", PageSize: 10})
	require.True(t, apperrors.Is(err, apperrors.CategoryValidation))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.Contains(t, appErr.Message, "more than 3 rows")
	require.NotEmpty(t, appErr.Hint)
}

func TestExecutorDatabaseErrors(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42P01", Message: `relation "missing" does not exist`}
	pool := &fakePool{
		queryRowFn: func(context.Context, string, ...any) pgx.Row {
			return fakeRow{scanFn: func(...any) error { return pgErr }}
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{}, nil)
	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT * FROM missing"})
	require.True(t, apperrors.Is(err, apperrors.CategoryValidation))
	require.Contains(t, err.Error(), `execution failed: relation "missing" does not exist`)

	pool.queryRowFn = func(context.Context, string, ...any) pgx.Row {
		return fakeRow{scanFn: func(...any) error { return errors.New("dial tcp: connection refused") }}
	}
	_, err = exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT 1"})
	require.True(t, apperrors.Is(err, apperrors.CategoryUpstream))
	require.NotContains(t, err.Error(), "connection refused")
}

func TestExecutorNormalizesUUIDs(t *testing.T) {
	id := uuid.New()
	pool := &fakePool{
		queryRowFn: countRow(1),
		queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &fakeRows{columns: []string{"id"}, values: [][]any{{[16]byte(id)}}}, nil
		},
	}

	exec := NewExecutor(fakeValidator{}, ExecutorConfig{}, nil)
	res, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT id FROM t"})
	require.NoError(t, err)
	require.Equal(t, id.String(), res.Rows[0]["id"])
}

func TestTotalPages(t *testing.T) {
	require.Equal(t, 0, totalPages(0, 10))
	require.Equal(t, 1, totalPages(1, 10))
	require.Equal(t, 1, totalPages(10, 10))
	require.Equal(t, 2, totalPages(11, 10))
	require.Equal(t, 2, totalPages(15, 10))
}

func TestExecutorRejectsMultipleStatements(t *testing.T) {
	exec := NewExecutor(fakeValidator{inspectFn: func(string) ([]sqlguard.Statement, error) {
		return []sqlguard.Statement{
			{Kind: sqlguard.KindSelect, Tag: "SELECT", Text: "SELECT 1"},
			{Kind: sqlguard.KindSelect, Tag: "SELECT", Text: "SELECT 2"},
		}, nil
	}}, ExecutorConfig{}, nil)

	called := false
	pool := &fakePool{queryRowFn: func(context.Context, string, ...any) pgx.Row {
		called = true
		return nil
	}}

	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT 1; SELECT 2"})
	require.True(t, apperrors.Is(err, apperrors.CategoryValidation))
	require.ErrorContains(t, err, "2 statements")
	require.False(t, called)
}

func TestExecutorWrapsParsedStatementText(t *testing.T) {
	var countSQL string
	pool := &fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			countSQL = sql
			return countRow(0)(ctx, sql, args...)
		},
		queryFn: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &fakeRows{columns: []string{"x"}}, nil
		},
	}
	exec := NewExecutor(fakeValidator{inspectFn: func(string) ([]sqlguard.Statement, error) {
		return []sqlguard.Statement{{Kind: sqlguard.KindSelect, Tag: "SELECT", Text: "SELECT 1 AS x"}}, nil
	}}, ExecutorConfig{}, nil)

	_, err := exec.Execute(context.Background(), pool, QueryRequest{SQL: "SELECT 1 AS x; -- trailing note"})
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) FROM (\nSELECT 1 AS x\n) AS count_query_wrapper", countSQL)
}
