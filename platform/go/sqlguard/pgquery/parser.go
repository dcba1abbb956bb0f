// Package pgquery adapts the PostgreSQL grammar from libpg_query to sqlguard.Parser.
package pgquery

import (
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
)

// sideEffectFunctions are callable from a SELECT but change server or session state.
var sideEffectFunctions = map[string]struct{}{
	"pg_terminate_backend":    {},
	"pg_cancel_backend":       {},
	"pg_reload_conf":          {},
	"pg_rotate_logfile":       {},
	"pg_advisory_lock":        {},
	"pg_advisory_xact_lock":   {},
	"pg_try_advisory_lock":    {},
	"pg_create_restore_point": {},
	"pg_switch_wal":           {},
	"pg_promote":              {},
	"pg_read_file":            {},
	"pg_read_binary_file":     {},
	"pg_ls_dir":               {},
	"pg_stat_reset":           {},
	"set_config":              {},
	"nextval":                 {},
	"setval":                  {},
	"lo_import":               {},
	"lo_export":               {},
	"lo_unlink":               {},
	"lo_create":               {},
	"lo_from_bytea":           {},
	"lo_put":                  {},
	"dblink":                  {},
	"dblink_exec":             {},
	"dblink_connect":          {},
	"txid_current":            {},
	"pg_current_xact_id":      {},
	"pg_logical_emit_message": {},
}

// Parser parses PostgreSQL SQL.
type Parser struct{}

// New returns a PostgreSQL Parser.
func New() Parser { return Parser{} }

// Dialect names the grammar.
func (Parser) Dialect() string { return "PostgreSQL" }

// Parse splits sql into statements and classifies each one.
func (Parser) Parse(sql string) ([]sqlguard.Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, err
	}

	out := make([]sqlguard.Statement, 0, len(tree.GetStmts()))
	for _, raw := range tree.GetStmts() {
		stmt := classify(raw.GetStmt())
		stmt.Text = sourceText(sql, raw)
		out = append(out, stmt)
	}
	return out, nil
}

// sourceText slices the statement out of sql. Locations are byte offsets; a zero
// length means the statement runs to the end of the input.
func sourceText(sql string, raw *pg_query.RawStmt) string {
	start := int(raw.GetStmtLocation())
	if start < 0 || start > len(sql) {
		return ""
	}
	end := len(sql)
	if n := int(raw.GetStmtLen()); n > 0 && start+n <= len(sql) {
		end = start + n
	}
	return strings.TrimSpace(sql[start:end])
}

func classify(node *pg_query.Node) sqlguard.Statement {
	if node == nil {
		return sqlguard.Statement{Kind: sqlguard.KindOther, Tag: "an empty statement"}
	}

	sel := node.GetSelectStmt()
	if sel == nil {
		return sqlguard.Statement{Kind: sqlguard.KindOther, Tag: tagOf(node)}
	}

	effects := map[string]struct{}{}
	walk(sel.ProtoReflect(), func(m protoreflect.Message) {
		switch n := m.Interface().(type) {
		case *pg_query.InsertStmt:
			effects["a data-modifying INSERT"] = struct{}{}
		case *pg_query.UpdateStmt:
			effects["a data-modifying UPDATE"] = struct{}{}
		case *pg_query.DeleteStmt:
			effects["a data-modifying DELETE"] = struct{}{}
		case *pg_query.MergeStmt:
			effects["a data-modifying MERGE"] = struct{}{}
		case *pg_query.SelectStmt:
			if n.GetIntoClause() != nil {
				effects["SELECT INTO"] = struct{}{}
			}
			if len(n.GetLockingClause()) > 0 {
				effects["a row-locking clause"] = struct{}{}
			}
		case *pg_query.FuncCall:
			if name := funcName(n); name != "" {
				if _, denied := sideEffectFunctions[name]; denied {
					effects["a call to "+name+"()"] = struct{}{}
				}
			}
		}
	})

	stmt := sqlguard.Statement{Kind: sqlguard.KindSelect, Tag: "SELECT"}
	for effect := range effects {
		stmt.SideEffects = append(stmt.SideEffects, effect)
	}
	sort.Strings(stmt.SideEffects)
	return stmt
}

// walk visits m and every message reachable from its populated fields.
func walk(m protoreflect.Message, visit func(protoreflect.Message)) {
	if !m.IsValid() {
		return
	}
	visit(m)
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
		case fd.IsList():
			if fd.Message() == nil {
				return true
			}
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
		case fd.Message() != nil:
			walk(v.Message(), visit)
		}
		return true
	})
}

// funcName returns the unqualified, lower-cased function name.
func funcName(call *pg_query.FuncCall) string {
	parts := call.GetFuncname()
	if len(parts) == 0 {
		return ""
	}
	return strings.ToLower(parts[len(parts)-1].GetString_().GetSval())
}

var tags = map[string]string{
	"InsertStmt":        "INSERT",
	"UpdateStmt":        "UPDATE",
	"DeleteStmt":        "DELETE",
	"MergeStmt":         "MERGE",
	"DropStmt":          "DROP",
	"TruncateStmt":      "TRUNCATE",
	"AlterTableStmt":    "ALTER TABLE",
	"CreateStmt":        "CREATE TABLE",
	"CreateTableAsStmt": "CREATE TABLE AS",
	"IndexStmt":         "CREATE INDEX",
	"GrantStmt":         "GRANT",
	"CopyStmt":          "COPY",
	"VariableSetStmt":   "SET",
	"TransactionStmt":   "a transaction control statement",
	"ExplainStmt":       "EXPLAIN",
	"DoStmt":            "DO",
	"CallStmt":          "CALL",
}

// tagOf names the statement held in node's oneof.
func tagOf(node *pg_query.Node) string {
	m := node.ProtoReflect()
	oneof := m.Descriptor().Oneofs().ByName("node")
	if oneof == nil {
		return "a non-read statement"
	}
	fd := m.WhichOneof(oneof)
	if fd == nil || fd.Message() == nil {
		return "a non-read statement"
	}
	name := string(fd.Message().Name())
	if tag, ok := tags[name]; ok {
		return tag
	}
	return strings.ToUpper(strings.TrimSuffix(name, "Stmt"))
}
