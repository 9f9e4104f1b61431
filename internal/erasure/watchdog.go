package erasure

import (
	"context"
	"errors"
	"os"
	"time"
)

// RunWatchdog fails running jobs that stopped reporting progress. It blocks
// until ctx is done.
func (e *Engine) RunWatchdog(ctx context.Context, interval, stallTimeout time.Duration) error {
	if interval <= 0 || stallTimeout <= 0 {
		return errors.New("watchdog interval and stall timeout must be positive")
	}
	e.logger.Info().Dur("interval", interval).Dur("stall_timeout", stallTimeout).Msg("Watchdog started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Watchdog stopped")
			return nil
		case <-ticker.C:
			for _, id := range e.store.failStalled(stallTimeout) {
				e.logger.Warn().Str("job_id", id).Msg("Job stalled; marked failed and cancelled")
			}
		}
	}
}

// RunSweeper drops finished jobs older than retention together with their
// artifact files.
func (e *Engine) RunSweeper(ctx context.Context, interval, retention time.Duration) error {
	if interval <= 0 || retention <= 0 {
		return errors.New("sweep interval and retention must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.sweep(retention)
		}
	}
}

func (e *Engine) sweep(retention time.Duration) int {
	removed := e.store.purge(retention)
	for _, job := range removed {
		if job.Artifact == nil || job.Artifact.Path == "" {
			continue
		}
		if err := os.Remove(job.Artifact.Path); err != nil && !os.IsNotExist(err) {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to remove artifact")
		}
	}
	if len(removed) > 0 {
		e.logger.Info().Int("jobs", len(removed)).Msg("Expired jobs purged")
	}
	return len(removed)
}
