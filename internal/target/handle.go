package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Handle is one open target session. It belongs to a single scan, fetch or
// job and must be closed by that operation.
type Handle struct {
	db       *sql.DB
	dialect  Dialect
	database string
}

func (h *Handle) DB() *sql.DB { return h.db }
func (h *Handle) Dialect() Dialect { return h.dialect }
func (h *Handle) Database() string { return h.database }
func (h *Handle) Close() error { return h.db.Close() }

// Tables lists the user tables visible to the connected role.
func (h *Handle) Tables(ctx context.Context) ([]string, error) {
	return h.dialect.listTables(ctx, h.db)
}

// Columns returns the ordered columns and primary key of table.
func (h *Handle) Columns(ctx context.Context, table string) (TableColumns, error) {
	return h.dialect.listColumns(ctx, h.db, table)
}

// SelectByKeys builds a query returning every column of rows whose key,
// compared as text, is one of n values.
func SelectByKeys(d Dialect, table, key string, n, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s IN (", d.QuoteIdent(table), d.TextCast(d.QuoteIdent(key)))
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(i))
	}
	b.WriteString(")")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

// SelectRowForUpdate builds a query reading columns of one row as text,
// locking it where the dialect supports row locks.
func SelectRowForUpdate(d Dialect, table, key string, columns []string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, d.TextCast(d.QuoteIdent(c)))
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s%s",
		strings.Join(cols, ", "),
		d.QuoteIdent(table),
		d.TextCast(d.QuoteIdent(key)),
		d.Placeholder(1),
		d.LockClause(),
	)
}

// UpdateRow builds an update setting columns in order; the key value is the
// last argument.
func UpdateRow(d Dialect, table, key string, columns []string) string {
	sets := make([]string, 0, len(columns))
	for i, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = %s", d.QuoteIdent(c), d.Placeholder(i+1)))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.QuoteIdent(table),
		strings.Join(sets, ", "),
		d.TextCast(d.QuoteIdent(key)),
		d.Placeholder(len(columns)+1),
	)
}

// Sample returns up to limit non-null values of column as text.
func (h *Handle) Sample(ctx context.Context, table, column string, limit int) ([]string, error) {
	d := h.dialect
	col := d.QuoteIdent(column)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		d.TextCast(col), d.QuoteIdent(table), col, limit)
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
