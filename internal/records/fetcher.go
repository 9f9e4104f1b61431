package records

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/target"
	"github.com/stanstork/aegis-api/internal/telemetry"
)

const DefaultPreviewLimit = 100

// Row maps column names to JSON-safe values. A nil value is SQL NULL.
type Row map[string]*string

// FetchError is a query failure. Zero matching rows is not an error.
type FetchError struct {
	Table string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Table, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Querier is the part of a target handle the fetcher needs.
type Querier interface {
	DB() *sql.DB
	Dialect() target.Dialect
}

type Fetcher struct {
	limit  int
	tracer trace.Tracer
	logger zerolog.Logger
}

func NewFetcher(limit int, logger zerolog.Logger) *Fetcher {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	return &Fetcher{
		limit:  limit,
		tracer: telemetry.Tracer("records"),
		logger: logger.With().Str("component", "record-fetcher").Logger(),
	}
}

// Fetch returns the rows of sc.Table whose key matches one of sc.IDs.
// Row order is whatever the target returns.
func (f *Fetcher) Fetch(ctx context.Context, h Querier, sc scope.Scope) ([]Row, error) {
	rows := []Row{}
	if sc.Len() == 0 {
		return rows, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.sql.table", sc.Table),
		attribute.Int("scope.size", sc.Len()),
	}
	err := telemetry.ExecuteAndTrace(ctx, f.tracer, "records.fetch", attrs, func(ctx context.Context) error {
		query := target.SelectByKeys(h.Dialect(), sc.Table, sc.PrimaryKey, sc.Len(), f.limit)
		args := make([]any, len(sc.IDs))
		for i, id := range sc.IDs {
			args[i] = id
		}

		result, err := h.DB().QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer result.Close()

		cols, err := result.Columns()
		if err != nil {
			return err
		}
		for result.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := result.Scan(ptrs...); err != nil {
				return err
			}
			row := make(Row, len(cols))
			for i, c := range cols {
				row[c] = Stringify(values[i])
			}
			rows = append(rows, row)
		}
		return result.Err()
	})
	if err != nil {
		return nil, &FetchError{Table: sc.Table, Cause: err}
	}

	f.logger.Info().Str("table", sc.Table).Int("requested", sc.Len()).Int("found", len(rows)).Msg("Records fetched")
	return rows, nil
}

// Stringify converts a scanned driver value to its display form.
func Stringify(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case time.Time:
		s = t.Format(time.RFC3339Nano)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprint(t)
	}
	return &s
}
