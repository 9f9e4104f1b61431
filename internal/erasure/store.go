package erasure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrNotReady = errors.New("job results not ready")
	ErrTerminal = errors.New("job already finished")
)

type entry struct {
	job        Job
	finalizing bool
	heartbeat  time.Time
	cancel     context.CancelFunc
}

// Store is the process-wide job registry. The engine goroutine that owns a
// job is its only writer; everything else reads snapshots.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*entry), now: time.Now}
}

func (s *Store) create(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &entry{job: job.clone(), heartbeat: job.CreatedAt}
}

// Get returns the job if it exists and belongs to tenantID. Another
// tenant's job looks exactly like a missing one.
func (s *Store) Get(tenantID, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok || e.job.TenantID != tenantID {
		return Job{}, ErrNotFound
	}
	return e.job.clone(), nil
}

// List returns the tenant's jobs, newest first.
func (s *Store) List(tenantID string) []Job {
	s.mu.RLock()
	out := make([]Job, 0)
	for _, e := range s.jobs {
		if e.job.TenantID == tenantID {
			out = append(out, e.job.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Artifact returns the stored certificate of a completed job.
func (s *Store) Artifact(tenantID, id string) (ArtifactRef, error) {
	job, err := s.Get(tenantID, id)
	if err != nil {
		return ArtifactRef{}, err
	}
	if job.Status != StatusCompleted || job.Artifact == nil {
		return ArtifactRef{}, ErrNotReady
	}
	return *job.Artifact, nil
}

func (s *Store) transition(id string, next Status, mutate func(e *entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !e.job.Status.canTransitionTo(next) {
		if e.job.Status.Terminal() {
			return ErrTerminal
		}
		return fmt.Errorf("invalid job transition from %s to %s", e.job.Status, next)
	}
	e.job.Status = next
	if mutate != nil {
		mutate(e)
	}
	return nil
}

func (s *Store) markRunning(id string, cancel context.CancelFunc) error {
	return s.transition(id, StatusRunning, func(e *entry) {
		now := s.now()
		e.job.StartedAt = &now
		e.job.Progress = 0
		e.heartbeat = now
		e.cancel = cancel
	})
}

// progress records processed rows. The percentage never decreases and stays
// below 100 until the job completes.
func (s *Store) progress(id string, processed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok || e.job.Status != StatusRunning {
		return
	}
	e.heartbeat = s.now()
	if total <= 0 {
		return
	}
	pct := processed * 100 / total
	if pct > 99 {
		pct = 99
	}
	if pct > e.job.Progress {
		e.job.Progress = pct
	}
}

// beginCommit marks the job as finalizing so the watchdog leaves it alone.
// It fails if the job is no longer running.
func (s *Store) beginCommit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status != StatusRunning {
		return ErrTerminal
	}
	e.finalizing = true
	return nil
}

func (s *Store) complete(id string, ref ArtifactRef, processed int, at time.Time) error {
	return s.transition(id, StatusCompleted, func(e *entry) {
		e.job.Progress = 100
		e.job.Processed = processed
		e.job.Artifact = &ref
		e.job.CompletedAt = &at
		e.cancel = nil
	})
}

func (s *Store) fail(id string, f Failure) error {
	return s.transition(id, StatusFailed, func(e *entry) {
		now := s.now()
		e.job.Error = &f
		e.job.CompletedAt = &now
		e.cancel = nil
	})
}

// failStalled fails running jobs without a heartbeat for longer than
// timeout and cancels their execution. Jobs already committing are skipped.
func (s *Store) failStalled(timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stalled []string
	for id, e := range s.jobs {
		if e.job.Status != StatusRunning || e.finalizing || now.Sub(e.heartbeat) < timeout {
			continue
		}
		e.job.Status = StatusFailed
		e.job.Error = &Failure{Kind: FailureStalled, Message: "no progress for " + timeout.String()}
		e.job.CompletedAt = &now
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		stalled = append(stalled, id)
	}
	return stalled
}

// purge drops terminal jobs that finished before now-retention and returns
// them so their artifacts can be removed.
func (s *Store) purge(retention time.Duration) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	var removed []Job
	for id, e := range s.jobs {
		if !e.job.Status.Terminal() || e.job.CompletedAt == nil || e.job.CompletedAt.After(cutoff) {
			continue
		}
		removed = append(removed, e.job.clone())
		delete(s.jobs, id)
	}
	return removed
}
