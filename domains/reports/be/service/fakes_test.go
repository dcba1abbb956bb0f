package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenantpool"
)

// fakeValidator accepts every submission as one statement unless inspectFn is set.
type fakeValidator struct {
	inspectFn func(sql string) ([]sqlguard.Statement, error)
}

func (f fakeValidator) Inspect(sql string) ([]sqlguard.Statement, error) {
	if f.inspectFn == nil {
		return []sqlguard.Statement{{Kind: sqlguard.KindSelect, Tag: "SELECT"}}, nil
	}
	return f.inspectFn(sql)
}

type fakeRow struct {
	scanFn func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scanFn(dest...) }

type fakeRows struct {
	columns []string
	values  [][]any
	err     error
	idx     int
	closed  bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }
func (r *fakeRows) Scan(...any) error             { return errors.New("not supported") }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.closed || r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.idx-1], nil
}

type fakePool struct {
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.queryFn(ctx, sql, args...)
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.queryRowFn(ctx, sql, args...)
}

func (p *fakePool) Ping(context.Context) error { return nil }
func (p *fakePool) Close()                     {}

func countRow(total int64) func(ctx context.Context, sql string, args ...any) pgx.Row {
	return func(context.Context, string, ...any) pgx.Row {
		return fakeRow{scanFn: func(dest ...any) error {
			*(dest[0].(*int64)) = total
			return nil
		}}
	}
}

type fakePoolSource struct {
	getFn func(ctx context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (tenantpool.Pool, error)
}

func (f fakePoolSource) Get(ctx context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (tenantpool.Pool, error) {
	return f.getFn(ctx, info, credential)
}
