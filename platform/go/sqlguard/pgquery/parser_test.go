package pgquery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
)

func newGate() *sqlguard.Gate {
	return sqlguard.NewGate(New(), sqlguard.Config{})
}

func TestGateAcceptsReads(t *testing.T) {
	gate := newGate()

	accepted := []string{
		"SELECT id, name FROM t WHERE id = 1",
		"select 1;",
		"SELECT 1; SELECT 2",
		"WITH recent AS (SELECT * FROM orders WHERE created_at > now() - interval '7 days') SELECT count(*) FROM recent",
		"SELECT deleted_at, update_count, drop_reason FROM audit_log",
		"SELECT 'DELETE FROM users; DROP TABLE users' AS note",
		`SELECT "delete", "update", "drop" FROM "truncate"`,
		"SELECT u.id AS delete_me FROM users u JOIN roles r ON r.id = u.role_id ORDER BY 1 LIMIT 10",
		"SELECT * FROM generate_series(1, 10) g UNION ALL SELECT 42",
		"SELECT pg_sleep(0.1)",
	}

	for _, sql := range accepted {
		require.NoError(t, gate.Validate(sql), sql)
	}
}

func TestGateRejectsWrites(t *testing.T) {
	gate := newGate()

	rejected := map[string]string{
		"DROP TABLE users":                   "DROP",
		"DELETE FROM users WHERE id = 1":     "DELETE",
		"INSERT INTO users (id) VALUES (1)":  "INSERT",
		"UPDATE users SET name = 'x'":        "UPDATE",
		"ALTER TABLE users ADD COLUMN x int": "ALTER TABLE",
		"TRUNCATE users":                     "TRUNCATE",
		"SELECT 1; DROP TABLE users":         "DROP",
		"CREATE TABLE t2 AS SELECT * FROM t": "CREATE TABLE AS",
		"GRANT ALL ON users TO public":       "GRANT",
		"COPY users TO '/tmp/users.csv'":     "COPY",
		"SET statement_timeout = 0":          "SET",
		"BEGIN":                              "transaction control",
		"EXPLAIN ANALYZE DELETE FROM users":  "EXPLAIN",
		"DO $$ BEGIN PERFORM 1; END $$":      "DO",
	}

	for sql, tag := range rejected {
		err := gate.Validate(sql)
		require.Error(t, err, sql)
		require.Contains(t, err.Error(), "only SELECT/read statements are allowed", sql)
		require.Contains(t, err.Error(), tag, sql)
	}
}

func TestGateRejectsSideEffectsInsideSelect(t *testing.T) {
	gate := newGate()

	rejected := map[string]string{
		"WITH gone AS (DELETE FROM users RETURNING id) SELECT * FROM gone":         "DELETE",
		"WITH moved AS (INSERT INTO archive SELECT * FROM t RETURNING *) SELECT 1": "INSERT",
		"SELECT * INTO backup_users FROM users":                                    "SELECT INTO",
		"SELECT * FROM accounts FOR UPDATE":                                        "row-locking",
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity":                   "pg_terminate_backend",
		"SELECT set_config('search_path', 'evil', false)":                          "set_config",
		"SELECT nextval('orders_id_seq')":                                          "nextval",
		"SELECT * FROM t WHERE id IN (SELECT pg_catalog.lo_import('/etc/passwd'))": "lo_import",
	}

	for sql, fragment := range rejected {
		err := gate.Validate(sql)
		require.Error(t, err, sql)
		require.Contains(t, err.Error(), fragment, sql)
	}
}

func TestGateRejectsUnparsable(t *testing.T) {
	err := newGate().Validate("SELEC * FROM t")
	require.Error(t, err)
	require.Contains(t, err.Error(), "could not be parsed as PostgreSQL")
}

func TestGateRejectsOverLength(t *testing.T) {
	sql := "SELECT 1 AS a" + strings.Repeat(" ", sqlguard.DefaultMaxLength)
	require.Error(t, newGate().Validate(sql))
}

func TestParseClassifiesEachStatement(t *testing.T) {
	stmts, err := New().Parse("SELECT 1; UPDATE t SET a = 1; SELECT 2")
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	require.Equal(t, sqlguard.KindSelect, stmts[0].Kind)
	require.Equal(t, sqlguard.KindOther, stmts[1].Kind)
	require.Equal(t, "UPDATE", stmts[1].Tag)
	require.Equal(t, sqlguard.KindSelect, stmts[2].Kind)
	require.Equal(t, "SELECT 1", stmts[0].Text)
	require.Equal(t, "UPDATE t SET a = 1", stmts[1].Text)
}

func TestParseKeepsStatementSource(t *testing.T) {
	stmts, err := New().Parse("SELECT id FROM orders; -- trailing note")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, "SELECT id FROM orders", stmts[0].Text)

	stmts, err = New().Parse("  SELECT 'a;b' AS x  ")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, "SELECT 'a;b' AS x", stmts[0].Text)
}
