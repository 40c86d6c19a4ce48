package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder selects the bind-parameter style of a SQL dialect.
type Placeholder int

const (
	// Dollar emits $1, $2, ... (PostgreSQL).
	Dollar Placeholder = iota
	// Question emits ? (SQLite).
	Question
)

// UpsertConfig defines the parameters for a multi-row upsert statement.
type UpsertConfig struct {
	Table        string   // target table (e.g., "binding_category_stats")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	DoNothing    bool     // ON CONFLICT DO NOTHING instead of DO UPDATE
}

// UpsertSQL builds INSERT ... VALUES (...), (...) ON CONFLICT (keys) DO UPDATE
// for rowCount rows and returns the statement. Arguments are bound row-major,
// in Columns order. Both PostgreSQL and SQLite accept the generated SQL.
func UpsertSQL(cfg UpsertConfig, rowCount int, ph Placeholder) (string, error) {
	if rowCount <= 0 {
		return "", eris.New("db: upsert: no rows")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil && !cfg.DoNothing {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns))

	n := 0
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cfg.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(placeholder(ph, n))
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", quoteAndJoin(cfg.ConflictKeys))

	if cfg.DoNothing || len(updateCols) == 0 {
		b.WriteString("DO NOTHING")
		return b.String(), nil
	}

	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		setClauses[i] = fmt.Sprintf("%s = excluded.%s", id, id)
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(setClauses, ", "))

	return b.String(), nil
}

// Flatten turns rows into a single argument slice in row-major order.
func Flatten(rows [][]any) []any {
	var out []any
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// Placeholders returns n comma-separated bind parameters starting at start.
func Placeholders(ph Placeholder, start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = placeholder(ph, start+i)
	}
	return strings.Join(parts, ", ")
}

func placeholder(ph Placeholder, n int) string {
	if ph == Question {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// sanitizeTable handles schema-qualified table names like "catalog.categories".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
