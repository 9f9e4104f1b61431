package erasure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore()
	s.now = clock.now
	return s, clock
}

func queued(id, tenant string, at time.Time) Job {
	return Job{ID: id, TenantID: tenant, Table: "customers", TargetIDs: []string{"1", "2"}, Status: StatusQueued, CreatedAt: at}
}

func TestStoreTenantIsolation(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("a", "t1", clock.now()))

	job, err := s.Get("t1", "a")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)

	_, err = s.Get("t2", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.List("t2"))
}

func TestStoreReturnsCopies(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("a", "t1", clock.now()))

	job, err := s.Get("t1", "a")
	require.NoError(t, err)
	job.TargetIDs[0] = "changed"

	again, err := s.Get("t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", again.TargetIDs[0])
}

func TestStoreListNewestFirst(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("old", "t1", clock.now()))
	clock.advance(time.Minute)
	s.create(queued("new", "t1", clock.now()))
	s.create(queued("other", "t2", clock.now()))

	jobs := s.List("t1")
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)
	assert.Equal(t, "old", jobs[1].ID)
}

func TestStoreTransitions(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("a", "t1", clock.now()))

	assert.Error(t, s.complete("a", ArtifactRef{}, 1, clock.now()), "queued job cannot complete")
	require.NoError(t, s.markRunning("a", nil))
	require.NoError(t, s.complete("a", ArtifactRef{FileName: "x.pdf"}, 2, clock.now()))

	assert.ErrorIs(t, s.fail("a", Failure{Kind: FailureInternal}), ErrTerminal)
	job, err := s.Get("t1", "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 2, job.Processed)
}

func TestStoreProgressIsMonotonic(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("a", "t1", clock.now()))
	require.NoError(t, s.markRunning("a", nil))

	s.progress("a", 1, 2)
	s.progress("a", 1, 4)
	job, _ := s.Get("t1", "a")
	assert.Equal(t, 50, job.Progress)

	s.progress("a", 2, 2)
	job, _ = s.Get("t1", "a")
	assert.Equal(t, 99, job.Progress, "only completion reports 100")
}

func TestStoreArtifactRequiresCompletion(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("a", "t1", clock.now()))

	_, err := s.Artifact("t1", "a")
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.markRunning("a", nil))
	require.NoError(t, s.fail("a", Failure{Kind: FailureRowWrite}))
	_, err = s.Artifact("t1", "a")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = s.Artifact("t2", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFailStalled(t *testing.T) {
	s, clock := newTestStore()
	cancelled := false
	s.create(queued("slow", "t1", clock.now()))
	s.create(queued("committing", "t1", clock.now()))
	s.create(queued("busy", "t1", clock.now()))
	require.NoError(t, s.markRunning("slow", func() { cancelled = true }))
	require.NoError(t, s.markRunning("committing", nil))
	require.NoError(t, s.markRunning("busy", nil))
	require.NoError(t, s.beginCommit("committing"))

	clock.advance(2 * time.Minute)
	s.progress("busy", 1, 2)

	stalled := s.failStalled(time.Minute)
	assert.Equal(t, []string{"slow"}, stalled)
	assert.True(t, cancelled)

	job, _ := s.Get("t1", "slow")
	assert.Equal(t, StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, FailureStalled, job.Error.Kind)

	assert.ErrorIs(t, s.beginCommit("slow"), ErrTerminal)
}

func TestStorePurge(t *testing.T) {
	s, clock := newTestStore()
	s.create(queued("done", "t1", clock.now()))
	s.create(queued("running", "t1", clock.now()))
	require.NoError(t, s.markRunning("done", nil))
	require.NoError(t, s.markRunning("running", nil))
	require.NoError(t, s.fail("done", Failure{Kind: FailureInternal}))

	clock.advance(25 * time.Hour)
	removed := s.purge(24 * time.Hour)
	require.Len(t, removed, 1)
	assert.Equal(t, "done", removed[0].ID)

	_, err := s.Get("t1", "done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("t1", "running")
	assert.NoError(t, err)
}
