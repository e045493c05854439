package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResetter struct {
	mu       sync.Mutex
	calls    []time.Duration
	orphaned int
	err      error
}

func (r *recordingResetter) ResetOrphaned(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphaned++
	return 1, r.err
}

func (r *recordingResetter) ResetStale(_ context.Context, maxAge time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, maxAge)
	return 1, r.err
}

func (r *recordingResetter) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	return r.ResetStale(ctx, maxAge)
}

type countingCollector struct {
	n int
}

func (c *countingCollector) Collect(context.Context) { c.n++ }

func TestStartResetsInterruptedTasks(t *testing.T) {
	tasks := &recordingResetter{}
	s := NewScheduler(Config{Tasks: tasks, Shares: &recordingResetter{}, Collector: &countingCollector{}})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Equal(t, 1, tasks.orphaned)
	assert.Empty(t, tasks.calls, "startup does not sweep other instances' runs")
	assert.Len(t, s.cron.Entries(), 3)
}

func TestStartFailsWhenStartupResetFails(t *testing.T) {
	s := NewScheduler(Config{Tasks: &recordingResetter{err: errors.New("db down")}})
	assert.Error(t, s.Start(context.Background()))
}

func TestNilDependenciesDisableJobs(t *testing.T) {
	s := NewScheduler(Config{Collector: &countingCollector{}})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Len(t, s.cron.Entries(), 1)
}

func TestJobsUseConfiguredAges(t *testing.T) {
	tasks := &recordingResetter{}
	shares := &recordingResetter{}
	collector := &countingCollector{}
	s := NewScheduler(Config{Tasks: tasks, Shares: shares, Collector: collector})

	s.ResetStaleTasks()
	s.ExpireShares()
	s.CollectGauges()

	assert.Equal(t, []time.Duration{StaleTaskAge}, tasks.calls)
	assert.Equal(t, []time.Duration{ShareRequestTTL}, shares.calls)
	assert.Equal(t, 1, collector.n)
}
