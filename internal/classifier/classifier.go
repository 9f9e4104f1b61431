package classifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stanstork/aegis-api/internal/strategy"
	"github.com/stanstork/aegis-api/internal/target"
	"github.com/stanstork/aegis-api/internal/telemetry"
)

const DefaultSampleSize = 5

// Source is the catalog surface the classifier reads. *target.Handle
// satisfies it.
type Source interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) (target.TableColumns, error)
	Sample(ctx context.Context, table, column string, limit int) ([]string, error)
}

type ColumnClassification struct {
	Name              string        `json:"name"`
	DataType          string        `json:"type"`
	SuggestedStrategy strategy.Kind `json:"suggested_strategy"`
	Reason            string        `json:"reason"`
	Rule              string        `json:"rule"`
}

type TableSchema struct {
	Table      string                 `json:"table"`
	PrimaryKey string                 `json:"primary_key"`
	Columns    []ColumnClassification `json:"columns"`
}

// ColumnNames returns the classified column names in declaration order.
func (s TableSchema) ColumnNames() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Diagnostic reports something the scan skipped or could not decide.
type Diagnostic struct {
	Table   string `json:"table"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// Result is one scan. Nothing in it is cached between scans.
type Result struct {
	PolicyVersion string                 `json:"policy_version"`
	Tables        map[string]TableSchema `json:"schema"`
	Diagnostics   []Diagnostic           `json:"diagnostics"`
}

// IntrospectionError means the table list itself could not be read.
type IntrospectionError struct {
	Cause error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("schema introspection failed: %v", e.Cause)
}

func (e *IntrospectionError) Unwrap() error { return e.Cause }

type Classifier struct {
	sampleSize int
	sampler    *contentSampler
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// New builds a classifier. sampleSize <= 0 disables content sampling.
func New(sampleSize int, logger zerolog.Logger) *Classifier {
	return &Classifier{
		sampleSize: sampleSize,
		sampler:    newContentSampler(),
		tracer:     telemetry.Tracer("classifier"),
		logger:     logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify scans every user table. A table that fails is omitted and
// reported as a diagnostic.
func (c *Classifier) Classify(ctx context.Context, src Source) (Result, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		return Result{}, &IntrospectionError{Cause: err}
	}

	res := Result{
		PolicyVersion: PolicyVersion,
		Tables:        make(map[string]TableSchema, len(tables)),
		Diagnostics:   []Diagnostic{},
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return Result{}, &IntrospectionError{Cause: err}
		}
		schema, diags, err := c.ClassifyTable(ctx, src, table)
		res.Diagnostics = append(res.Diagnostics, diags...)
		if err != nil {
			c.logger.Warn().Err(err).Str("table", table).Msg("Omitting table from scan")
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Table: table, Message: "table omitted: " + err.Error()})
			continue
		}
		res.Tables[table] = schema
	}

	c.logger.Info().
		Int("tables", len(res.Tables)).
		Int("diagnostics", len(res.Diagnostics)).
		Str("policy", PolicyVersion).
		Msg("Schema classified")
	return res, nil
}

// ClassifyTable classifies a single table.
func (c *Classifier) ClassifyTable(ctx context.Context, src Source, table string) (TableSchema, []Diagnostic, error) {
	var (
		schema TableSchema
		diags  []Diagnostic
	)
	err := telemetry.ExecuteAndTrace(ctx, c.tracer, "classifier.table",
		[]attribute.KeyValue{attribute.String("db.sql.table", table)},
		func(ctx context.Context) error {
			cols, err := src.Columns(ctx, table)
			if err != nil {
				return err
			}
			if len(cols.Columns) == 0 {
				return fmt.Errorf("no visible columns")
			}

			schema = TableSchema{Table: table, PrimaryKey: cols.PrimaryKey}
			if schema.PrimaryKey == "" {
				schema.PrimaryKey = target.UnknownKey
			}
			if cols.CompositeKey {
				diags = append(diags, Diagnostic{Table: table, Message: "composite primary key; rows cannot be targeted reliably"})
			} else if schema.PrimaryKey == target.UnknownKey {
				diags = append(diags, Diagnostic{Table: table, Message: "no primary key; first column will be used as a fallback key"})
			}

			for _, col := range cols.Columns {
				rule, info := Evaluate(col.Name, col.Type, col.Name == schema.PrimaryKey)
				cc := ColumnClassification{
					Name:              col.Name,
					DataType:          col.Type,
					SuggestedStrategy: rule.Strategy,
					Reason:            rule.Reason,
					Rule:              rule.Name,
				}
				if rule.Name == fallbackRule.Name && info.Class == ClassText && c.sampleSize > 0 {
					values, err := src.Sample(ctx, table, col.Name, c.sampleSize)
					if err != nil {
						diags = append(diags, Diagnostic{Table: table, Column: col.Name, Message: "sampling failed: " + err.Error()})
					} else if m, ok := c.sampler.match(values); ok {
						cc.SuggestedStrategy = m.strategy
						cc.Reason = m.reason
						cc.Rule = "content:" + m.name
					}
				}
				schema.Columns = append(schema.Columns, cc)
			}
			return nil
		})
	if err != nil {
		return TableSchema{}, diags, err
	}
	return schema, diags, nil
}
