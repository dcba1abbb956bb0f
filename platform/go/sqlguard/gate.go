// Package sqlguard admits only read-only SQL submissions. It decides on the
// parsed statement structure supplied by a Parser, never on keywords.
package sqlguard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
)

// DefaultMaxLength is the longest accepted submission, in characters.
const DefaultMaxLength = 35000

// Kind is the top-level operation of a statement.
type Kind int

const (
	KindOther Kind = iota
	KindSelect
)

// Statement is the parser-neutral view of one statement in a submission.
type Statement struct {
	Kind Kind
	// Tag names the operation for messages, e.g. "SELECT" or "DROP".
	Tag string
	// SideEffects lists constructs nested in an otherwise readable statement that
	// modify state (data-modifying CTEs, SELECT INTO, row locks, side-effecting calls).
	SideEffects []string
	// Text is the statement's source without its separator; empty when the parser does not track positions.
	Text string
}

// Parser splits a submission into statements under one SQL dialect.
type Parser interface {
	Parse(sql string) ([]Statement, error)
	Dialect() string
}

// Rejection explains why a submission was refused.
type Rejection struct {
	Reason string
	Hint   string
	// Statement is the 1-based index of the offending statement, 0 when not statement-specific.
	Statement int
}

func (r *Rejection) Error() string { return r.Reason }

// Unwrap exposes the rejection as a validation error.
func (r *Rejection) Unwrap() error { return apperrors.Validation(r.Reason, r.Hint) }

// Config tunes the gate.
type Config struct {
	MaxLength int
}

// Gate validates submissions.
type Gate struct {
	parser    Parser
	maxLength int
}

// NewGate returns a Gate that uses parser.
func NewGate(parser Parser, cfg Config) *Gate {
	if parser == nil {
		panic("sqlguard: parser is required")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	return &Gate{parser: parser, maxLength: cfg.MaxLength}
}

// Validate returns nil when every statement in sql is a pure read, or a *Rejection.
func (g *Gate) Validate(sql string) error {
	_, err := g.Inspect(sql)
	return err
}

// Inspect applies the same checks as Validate and returns the accepted statements.
func (g *Gate) Inspect(sql string) ([]Statement, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &Rejection{Reason: "query is empty", Hint: "submit a SELECT statement"}
	}

	if n := utf8.RuneCountInString(sql); n > g.maxLength {
		return nil, &Rejection{
			Reason: fmt.Sprintf("query is %d characters long; the maximum is %d", n, g.maxLength),
			Hint:   "shorten the query or move logic into a view",
		}
	}

	statements, err := g.parser.Parse(sql)
	if err != nil {
		return nil, &Rejection{
			Reason: fmt.Sprintf("query could not be parsed as %s: %v", g.parser.Dialect(), err),
			Hint:   "check the SQL syntax",
		}
	}
	if len(statements) == 0 {
		return nil, &Rejection{Reason: "query contains no statements", Hint: "submit a SELECT statement"}
	}

	for i, stmt := range statements {
		if stmt.Kind != KindSelect {
			return nil, &Rejection{
				Reason:    fmt.Sprintf("only SELECT/read statements are allowed; statement %d is %s", i+1, stmt.Tag),
				Hint:      "remove data-modifying and schema-modifying statements",
				Statement: i + 1,
			}
		}
		if len(stmt.SideEffects) > 0 {
			return nil, &Rejection{
				Reason:    fmt.Sprintf("only SELECT/read statements are allowed; statement %d contains %s", i+1, strings.Join(stmt.SideEffects, ", ")),
				Hint:      "remove data-modifying and schema-modifying constructs",
				Statement: i + 1,
			}
		}
	}

	return statements, nil
}
