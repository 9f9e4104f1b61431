package erasure

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/stanstork/aegis-api/internal/certificate"
	"github.com/stanstork/aegis-api/internal/classifier"
	"github.com/stanstork/aegis-api/internal/scope"
	"github.com/stanstork/aegis-api/internal/strategy"
	"github.com/stanstork/aegis-api/internal/target"
	"github.com/stanstork/aegis-api/internal/telemetry"
)

// Request is an accepted erasure order.
type Request struct {
	TenantID     string
	UserID       string
	Operator     string
	Organization string
	Connection   target.ConnectionSpec
	Scope        scope.Scope
	Columns      []ColumnSpec
}

// ValidationError rejects a request before any job is created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuditEntry is written once per erased record after commit.
type AuditEntry struct {
	TenantID       string
	UserID         string
	JobID          string
	Database       string
	Table          string
	RecordID       string
	Status         string
	ArtifactDigest string
	ExecutedAt     time.Time
}

// ErrShuttingDown is returned by Submit once Shutdown has started.
var ErrShuttingDown = errors.New("erasure engine is shutting down")

// AuditSink persists audit entries outside the target database.
type AuditSink interface {
	RecordErasure(ctx context.Context, entries []AuditEntry) error
}

type Config struct {
	MaxConcurrentJobs int
	// ConnectRetries bounds retries of a job attempt that failed on a
	// temporary connection error.
	ConnectRetries       int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// RowsPerSecond throttles row writes per job; zero disables it.
	RowsPerSecond float64
	ArtifactDir   string
}

type Engine struct {
	cfg     Config
	store   *Store
	opener  target.Opener
	certs   *certificate.Generator
	audit   AuditSink
	sem     *semaphore.Weighted
	tracer  trace.Tracer
	logger  zerolog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
	// mu orders the closing check and wg.Add in Submit against Shutdown.
	mu      sync.Mutex
	closing bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewEngine(cfg Config, store *Store, opener target.Opener, certs *certificate.Generator, audit AuditSink, logger zerolog.Logger) (*Engine, error) {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 10 * time.Second
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(os.TempDir(), "aegis-artifacts")
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		store:  store,
		opener: opener,
		certs:  certs,
		audit:  audit,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		tracer: telemetry.Tracer("erasure"),
		logger: logger.With().Str("component", "erasure-engine").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (e *Engine) Store() *Store { return e.store }

// Submit validates req, registers a queued job and starts it in the
// background. It never touches the target database.
func (e *Engine) Submit(req Request) (Job, error) {
	if err := validateRequest(req); err != nil {
		return Job{}, err
	}

	spec := req.Connection.Normalized()
	job := Job{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Operator:     req.Operator,
		Organization: req.Organization,
		Database:     spec.DBName,
		Table:        req.Scope.Table,
		KeyColumn:    req.Scope.PrimaryKey,
		TargetIDs:    req.Scope.IDs,
		Columns:      req.Columns,
		Status:       StatusQueued,
		CreatedAt:    e.now(),
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return Job{}, ErrShuttingDown
	}
	e.store.create(job)
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(job.ID, req)

	e.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("table", job.Table).
		Int("targets", len(job.TargetIDs)).
		Msg("Erasure job queued")
	return job.clone(), nil
}

func validateRequest(req Request) error {
	if req.TenantID == "" {
		return &ValidationError{Message: "missing tenant"}
	}
	if req.Scope.Table == "" {
		return &ValidationError{Message: "target table is required"}
	}
	if req.Scope.Len() == 0 {
		return &ValidationError{Message: "no target ids"}
	}
	if len(req.Columns) == 0 {
		return &ValidationError{Message: "columns_to_clean is empty"}
	}

	seen := make(map[string]bool, len(req.Columns))
	mutating := 0
	for _, c := range req.Columns {
		if c.Column == "" {
			return &ValidationError{Message: "column name is required"}
		}
		if !c.Strategy.Valid() {
			return &ValidationError{Message: fmt.Sprintf("column %s: unknown strategy %q", c.Column, c.Strategy)}
		}
		if seen[c.Column] {
			return &ValidationError{Message: fmt.Sprintf("column %s listed twice", c.Column)}
		}
		seen[c.Column] = true
		if c.Strategy.Mutates() {
			mutating++
			if c.Column == req.Scope.PrimaryKey {
				return &ValidationError{Message: fmt.Sprintf("key column %s cannot be %s", c.Column, c.Strategy)}
			}
		}
	}
	if mutating == 0 {
		return &ValidationError{Message: "no column uses HASH, MASK or EMAIL_MASK"}
	}
	return nil
}

func (e *Engine) run(jobID string, req Request) {
	defer e.wg.Done()
	logger := e.logger.With().Str("job_id", jobID).Logger()

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		_ = e.store.fail(jobID, Failure{Kind: FailureShutdown, Message: "engine stopped before the job started"})
		return
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	if err := e.store.markRunning(jobID, cancel); err != nil {
		logger.Warn().Err(err).Msg("Job could not start")
		return
	}
	logger.Info().Object("target", req.Connection.Normalized()).Msg("Erasure job running")

	salt, err := strategy.NewSalt()
	if err != nil {
		_ = e.store.fail(jobID, Failure{Kind: FailureInternal, Message: err.Error()})
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("job.id", jobID),
		attribute.String("db.sql.table", req.Scope.Table),
		attribute.Int("scope.size", req.Scope.Len()),
	}
	err = telemetry.ExecuteAndTrace(ctx, e.tracer, "erasure.job", attrs, func(ctx context.Context) error {
		return e.execute(ctx, jobID, req, salt, logger)
	})
	if err == nil {
		return
	}

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		jobErr = jobError(FailureInternal, "unexpected error", err)
	}
	failure := jobErr.Failure
	if jobErr.Cause != nil {
		failure.Message = jobErr.Message + ": " + jobErr.Cause.Error()
	}
	if ferr := e.store.fail(jobID, failure); ferr != nil && !errors.Is(ferr, ErrTerminal) {
		logger.Error().Err(ferr).Msg("Failed to record job failure")
	}
	logger.Error().Err(err).Str("record_id", failure.RecordID).Str("column", failure.Column).Msg("Erasure job failed")
}

// execute retries whole attempts on temporary connection errors. Every
// attempt runs in its own transaction, so a failed attempt leaves nothing
// behind. Commit errors are never retried.
func (e *Engine) execute(ctx context.Context, jobID string, req Request, salt string, logger zerolog.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryInitialInterval
	policy.MaxInterval = e.cfg.RetryMaxInterval
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.ConnectRetries)), ctx)

	operation := func() error {
		err := e.attempt(ctx, jobID, req, salt)
		if err == nil {
			return nil
		}
		var jobErr *JobError
		if errors.As(err, &jobErr) && jobErr.retryable && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("Erasure attempt failed on a temporary error")
	}
	return backoff.RetryNotify(operation, b, notify)
}

func (e *Engine) attempt(ctx context.Context, jobID string, req Request, salt string) error {
	h, err := e.opener.Open(ctx, req.Connection)
	if err != nil {
		jerr := jobError(FailureConnection, "cannot open target", err)
		jerr.retryable = target.IsTemporary(err)
		return jerr
	}
	defer h.Close()

	sc := req.Scope
	cols, err := h.Columns(ctx, sc.Table)
	if errors.Is(err, target.ErrTableNotFound) {
		return jobError(FailureValidation, "target table not found", err)
	}
	if err != nil {
		return transient(jobError(FailureConnection, "cannot read table definition", err))
	}

	requested := sc.PrimaryKey
	if requested == "" || requested == scope.UnknownKey {
		requested = cols.PrimaryKey
	}
	key, degraded, err := scope.ResolveKey(requested, cols.Names())
	if err != nil {
		return jobError(FailureValidation, "cannot pick a key column", err)
	}
	if degraded {
		e.logger.Warn().Str("job_id", jobID).Str("table", sc.Table).Str("key", key).
			Msg("Table has no single-column primary key; targeting rows by the first column")
	}
	sc.PrimaryKey = key

	plan, err := buildPlan(cols, sc.PrimaryKey, req.Columns)
	if err != nil {
		return err
	}

	tx, err := h.DB().BeginTx(ctx, nil)
	if err != nil {
		return transient(jobError(FailureConnection, "cannot begin transaction", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var limiter *rate.Limiter
	if e.cfg.RowsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RowsPerSecond), 1)
	}

	d := h.Dialect()
	selectQuery := target.SelectRowForUpdate(d, sc.Table, sc.PrimaryKey, plan.mutating)
	updates := make([]string, len(plan.mutating))
	for i, col := range plan.mutating {
		updates[i] = target.UpdateRow(d, sc.Table, sc.PrimaryKey, []string{col})
	}

	entries := make([]certificate.Entry, 0, len(sc.IDs))
	for i, id := range sc.IDs {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return jobError(FailureShutdown, "job cancelled", err).at(id, "")
			}
		}

		values := make([]sql.NullString, len(plan.mutating))
		dest := make([]any, len(values))
		for j := range values {
			dest[j] = &values[j]
		}
		err := tx.QueryRowContext(ctx, selectQuery, id).Scan(dest...)
		if errors.Is(err, sql.ErrNoRows) {
			e.store.progress(jobID, i+1, len(sc.IDs))
			continue
		}
		if err != nil {
			return transient(jobError(FailureRowRead, "cannot read row", err).at(id, ""))
		}

		for j, col := range plan.mutating {
			var in *string
			if values[j].Valid {
				in = &values[j].String
			}
			out, err := strategy.Apply(plan.strategies[col], in, salt)
			if err != nil {
				return jobError(FailureStrategy, "strategy failed", err).at(id, col)
			}
			var arg any
			if out != nil {
				arg = *out
			}
			if _, err := tx.ExecContext(ctx, updates[j], arg, id); err != nil {
				return transient(jobError(FailureRowWrite, "cannot write column", err).at(id, col))
			}
		}

		entries = append(entries, certificate.Entry{RecordID: id, Columns: plan.actions})
		e.store.progress(jobID, i+1, len(sc.IDs))
	}

	if len(entries) == 0 {
		return jobError(FailureNoRecords, "none of the target ids matched a row", nil)
	}

	completedAt := e.now().UTC().Truncate(time.Second)
	manifest := certificate.Manifest{
		JobID:         jobID,
		Organization:  req.Organization,
		Operator:      req.Operator,
		Database:      h.Database(),
		Table:         sc.Table,
		KeyColumn:     sc.PrimaryKey,
		PolicyVersion: classifier.PolicyVersion,
		CompletedAt:   completedAt,
		Records:       entries,
		Preserved:     plan.preserved,
	}
	art, err := e.certs.Generate(manifest)
	if err != nil {
		return jobError(FailureCertificate, "cannot generate certificate", err)
	}
	ref, err := e.storeArtifact(jobID, art)
	if err != nil {
		return jobError(FailureArtifact, "cannot store certificate", err)
	}

	if err := e.store.beginCommit(jobID); err != nil {
		_ = os.Remove(ref.Path)
		return jobError(FailureStalled, "job was failed before commit", err)
	}
	if err := tx.Commit(); err != nil {
		_ = os.Remove(ref.Path)
		return jobError(FailureCommit, "commit failed", err)
	}
	committed = true

	if err := e.store.complete(jobID, ref, len(entries), completedAt); err != nil {
		return errors.Wrap(err, "mark job completed")
	}
	e.recordAudit(jobID, req, h.Database(), entries, ref.Digest, completedAt)

	e.logger.Info().
		Str("job_id", jobID).
		Int("records", len(entries)).
		Str("artifact", ref.FileName).
		Msg("Erasure job completed")
	return nil
}

type plan struct {
	mutating   []string
	strategies map[string]strategy.Kind
	actions    []certificate.ColumnAction
	preserved  []string
}

func buildPlan(cols target.TableColumns, key string, requested []ColumnSpec) (plan, error) {
	known := make(map[string]bool, len(cols.Columns))
	for _, c := range cols.Columns {
		known[c.Name] = true
	}
	if !known[key] {
		return plan{}, jobError(FailureValidation, fmt.Sprintf("key column %s not found in table", key), nil)
	}
	for _, c := range requested {
		if c.Column == key && c.Strategy.Mutates() {
			return plan{}, jobError(FailureValidation, fmt.Sprintf("key column %s cannot be %s", key, c.Strategy), nil)
		}
	}

	p := plan{strategies: make(map[string]strategy.Kind, len(requested))}
	for _, c := range requested {
		if !known[c.Column] {
			return plan{}, jobError(FailureValidation, fmt.Sprintf("column %s not found in table", c.Column), nil)
		}
		p.strategies[c.Column] = c.Strategy
		p.actions = append(p.actions, certificate.ColumnAction{Column: c.Column, Strategy: c.Strategy})
		if c.Strategy.Mutates() {
			p.mutating = append(p.mutating, c.Column)
		}
	}
	for _, c := range cols.Columns {
		if !p.strategies[c.Name].Mutates() {
			p.preserved = append(p.preserved, c.Name)
		}
	}
	return p, nil
}

func (e *Engine) storeArtifact(jobID string, art certificate.Artifact) (ArtifactRef, error) {
	ext := ".zip"
	if art.ContentType == certificate.ContentTypePDF {
		ext = ".pdf"
	}
	path := filepath.Join(e.cfg.ArtifactDir, jobID+ext)
	if err := os.WriteFile(path, art.Data, 0o600); err != nil {
		return ArtifactRef{}, err
	}
	return ArtifactRef{
		Path:        path,
		FileName:    art.FileName,
		ContentType: art.ContentType,
		Digest:      art.Digest,
		Size:        int64(len(art.Data)),
	}, nil
}

func (e *Engine) recordAudit(jobID string, req Request, database string, entries []certificate.Entry, digest string, at time.Time) {
	if e.audit == nil {
		return
	}
	rows := make([]AuditEntry, 0, len(entries))
	for _, en := range entries {
		rows = append(rows, AuditEntry{
			TenantID:       req.TenantID,
			UserID:         req.UserID,
			JobID:          jobID,
			Database:       database,
			Table:          req.Scope.Table,
			RecordID:       en.RecordID,
			Status:         string(StatusCompleted),
			ArtifactDigest: digest,
			ExecutedAt:     at,
		})
	}
	// The target is already committed; an audit failure must not fail the job.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.audit.RecordErasure(ctx, rows); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to write audit entries")
	}
}

// transient marks errors caused by a lost or broken connection as retryable.
func transient(err *JobError) *JobError {
	if errors.Is(err.Cause, driver.ErrBadConn) || errors.Is(err.Cause, sql.ErrConnDone) || target.IsTemporary(err.Cause) {
		err.retryable = true
	}
	return err
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first, running jobs are cancelled and their transactions rolled back.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
