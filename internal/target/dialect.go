package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// UnknownKey is reported when a table has no single-column primary key.
const UnknownKey = "UNKNOWN"

// Column is one column as declared in the target catalog.
type Column struct {
	Name string
	Type string
}

// TableColumns is the catalog view of one table.
type TableColumns struct {
	Columns    []Column
	PrimaryKey string
	// CompositeKey is set when the table has a multi-column primary key.
	CompositeKey bool
}

// Names returns the column names in declaration order.
func (t TableColumns) Names() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Dialect hides the SQL differences between supported targets.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th argument, starting at 1.
	Placeholder(n int) string
	QuoteIdent(name string) string
	TextCast(expr string) string
	// LockClause is appended to single-row selects inside an erasure transaction.
	LockClause() string

	listTables(ctx context.Context, db *sql.DB) ([]string, error)
	listColumns(ctx context.Context, db *sql.DB, table string) (TableColumns, error)
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("no dialect for driver %q", driver)
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return DriverPostgres }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) QuoteIdent(name string) string { return quoteDouble(name) }
func (postgresDialect) TextCast(expr string) string { return "CAST(" + expr + " AS TEXT)" }
func (postgresDialect) LockClause() string { return " FOR UPDATE" }

func (postgresDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	return queryStrings(ctx, db, query)
}

func (postgresDialect) listColumns(ctx context.Context, db *sql.DB, table string) (TableColumns, error) {
	const columnsQuery = `
		SELECT column_name,
		       COALESCE(domain_name, CASE WHEN data_type = 'USER-DEFINED' THEN udt_name ELSE data_type END)
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
	const keyQuery = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema()
		  AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`

	rows, err := db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return TableColumns{}, err
	}
	defer rows.Close()

	var out TableColumns
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return TableColumns{}, err
		}
		out.Columns = append(out.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return TableColumns{}, err
	}
	if len(out.Columns) == 0 {
		return TableColumns{}, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}

	keys, err := queryStrings(ctx, db, keyQuery, table)
	if err != nil {
		return TableColumns{}, err
	}
	out.PrimaryKey, out.CompositeKey = pickKey(keys)
	return out, nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return DriverSQLite }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) QuoteIdent(name string) string { return quoteDouble(name) }
func (sqliteDialect) TextCast(expr string) string { return "CAST(" + expr + " AS TEXT)" }

// SQLite locks the whole database for the writing transaction.
func (sqliteDialect) LockClause() string { return "" }

func (sqliteDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	const query = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
	return queryStrings(ctx, db, query)
}

func (sqliteDialect) listColumns(ctx context.Context, db *sql.DB, table string) (TableColumns, error) {
	const query = `SELECT name, type, pk FROM pragma_table_info(?) ORDER BY cid`

	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return TableColumns{}, err
	}
	defer rows.Close()

	var (
		out  TableColumns
		keys []string
	)
	for rows.Next() {
		var (
			c  Column
			pk int
		)
		if err := rows.Scan(&c.Name, &c.Type, &pk); err != nil {
			return TableColumns{}, err
		}
		out.Columns = append(out.Columns, c)
		if pk > 0 {
			keys = append(keys, c.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return TableColumns{}, err
	}
	if len(out.Columns) == 0 {
		return TableColumns{}, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	out.PrimaryKey, out.CompositeKey = pickKey(keys)
	return out, nil
}

func pickKey(keys []string) (string, bool) {
	switch len(keys) {
	case 0:
		return UnknownKey, false
	case 1:
		return keys[0], false
	default:
		return UnknownKey, true
	}
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
