package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
)

const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultMaxRows      = 50000
	DefaultMaxPageSize  = 1000
	DefaultPageSize     = 100
)

const (
	countWrapperAlias = "count_query_wrapper"
	dataWrapperAlias  = "data_query_wrapper"
	fingerprintLength = 12

	hintNarrowQuery = "add a LIMIT or WHERE clause to narrow the result"
	hintFasterQuery = "narrow the query with a WHERE clause or query fewer rows"
)

// Validator admits or rejects raw SQL and returns its statements. Implemented by sqlguard.Gate.
type Validator interface {
	Inspect(sql string) ([]sqlguard.Statement, error)
}

// Querier is the subset of a tenant pool the executor needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExecutorConfig bounds query execution.
type ExecutorConfig struct {
	Timeout     time.Duration
	MaxRows     int
	MaxPageSize int
	PageSize    int
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultQueryTimeout
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > c.MaxPageSize {
		c.PageSize = c.MaxPageSize
	}
	return c
}

// QueryRequest is one ad-hoc query submission. Zero Page and PageSize select the defaults.
type QueryRequest struct {
	SQL      string
	Page     int
	PageSize int
}

// QueryResult is one page of a query's rows plus totals.
type QueryResult struct {
	Columns    []string
	Rows       []map[string]any
	RowCount   int
	TotalRows  int64
	TotalPages int
	Page       int
	PageSize   int
	Duration   time.Duration
}

// Executor runs gated queries against a tenant pool with pagination, a deadline and a row ceiling.
type Executor struct {
	gate   Validator
	cfg    ExecutorConfig
	logger *zap.Logger
}

func NewExecutor(gate Validator, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if gate == nil {
		panic("reports executor: validator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{gate: gate, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective limits.
func (e *Executor) Config() ExecutorConfig { return e.cfg }

type execution struct {
	result QueryResult
	err    error
}

// Execute validates sql, then runs the count and data queries under one deadline.
func (e *Executor) Execute(ctx context.Context, pool Querier, req QueryRequest) (QueryResult, error) {
	start := time.Now()
	logger := platformlogging.Ctx(ctx, e.logger).With(
		zap.Int("sql_length", len(req.SQL)),
		zap.String("sql_fingerprint", fingerprint(req.SQL)),
	)

	result, err := e.execute(ctx, pool, req, start)

	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		category := apperrors.CategoryOf(err)
		metrics.QueryExecutions.WithLabelValues(string(category)).Inc()
		logger.Info("report query rejected", zap.String("category", string(category)), zap.Error(err))
		return QueryResult{}, err
	}

	metrics.QueryExecutions.WithLabelValues("ok").Inc()
	logger.Info("report query executed",
		zap.Int("row_count", result.RowCount),
		zap.Int64("total_rows", result.TotalRows),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, pool Querier, req QueryRequest, start time.Time) (QueryResult, error) {
	statements, err := e.gate.Inspect(req.SQL)
	if err != nil {
		metrics.SQLRejections.Inc()
		return QueryResult{}, err
	}
	// Both wrappers take exactly one statement as a subquery.
	if len(statements) != 1 {
		return QueryResult{}, apperrors.Validation(
			fmt.Sprintf("query contains %d statements; a report runs exactly one", len(statements)),
			"remove the extra statements or combine them with UNION ALL or a CTE",
		)
	}

	page, pageSize, err := e.normalizePaging(req.Page, req.PageSize)
	if err != nil {
		return QueryResult{}, err
	}

	sql := statementSQL(req.SQL, statements[0])

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan execution, 1)
	go func() {
		res, err := e.run(runCtx, pool, sql, page, pageSize)
		done <- execution{result: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return QueryResult{}, ctx.Err()
		}
		return QueryResult{}, e.timeoutError()
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return QueryResult{}, e.timeoutError()
			}
			return QueryResult{}, out.err
		}
		out.result.Page = page
		out.result.PageSize = pageSize
		out.result.Duration = time.Since(start)
		return out.result, nil
	}
}

func (e *Executor) timeoutError() error {
	return apperrors.Timeout(fmt.Sprintf("query exceeded time limit of %s", e.cfg.Timeout), hintFasterQuery)
}

func (e *Executor) normalizePaging(page, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return 0, 0, apperrors.Validation("page must be 1 or greater", "")
	}
	if pageSize == 0 {
		pageSize = e.cfg.PageSize
	}
	if pageSize < 1 || pageSize > e.cfg.MaxPageSize {
		return 0, 0, apperrors.Validation(
			fmt.Sprintf("pageSize must be between 1 and %d", e.cfg.MaxPageSize),
			"request a smaller page",
		)
	}
	return page, pageSize, nil
}

func (e *Executor) run(ctx context.Context, pool Querier, sql string, page, pageSize int) (QueryResult, error) {
	var total int64
	countSQL := "SELECT COUNT(*) FROM (\n" + sql + "\n) AS " + countWrapperAlias
	if err := pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return QueryResult{}, executionError(err)
	}

	offset := (page - 1) * pageSize
	dataSQL := "SELECT * FROM (\n" + sql + "\n) AS " + dataWrapperAlias +
		" LIMIT " + strconv.Itoa(pageSize) + " OFFSET " + strconv.Itoa(offset)

	rows, err := pool.Query(ctx, dataSQL)
	if err != nil {
		return QueryResult{}, executionError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	out := make([]map[string]any, 0, min(pageSize, 64))
	for rows.Next() {
		if len(out) >= e.cfg.MaxRows {
			return QueryResult{}, apperrors.Validation(
				fmt.Sprintf("query returned more than %d rows", e.cfg.MaxRows),
				hintNarrowQuery,
			)
		}
		values, err := rows.Values()
		if err != nil {
			return QueryResult{}, executionError(err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, executionError(err)
	}

	return QueryResult{
		Columns:    columns,
		Rows:       out,
		RowCount:   len(out),
		TotalRows:  total,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// executionError keeps database-reported errors client-facing and hides transport failures.
func executionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &apperrors.Error{
			Category: apperrors.CategoryValidation,
			Message:  "execution failed: " + pgErr.Message,
			Hint:     pgErr.Hint,
			Cause:    err,
		}
	}
	return apperrors.Upstream("tenant database query failed", err)
}

// statementSQL prefers the parser's view of the statement so trailing comments
// after the separator cannot leak into the wrappers.
func statementSQL(raw string, stmt sqlguard.Statement) string {
	if strings.TrimSpace(stmt.Text) != "" {
		return stripTrailingSeparator(stmt.Text)
	}
	return stripTrailingSeparator(raw)
}

func stripTrailingSeparator(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.TrimSpace(sql)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}

func fingerprint(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
