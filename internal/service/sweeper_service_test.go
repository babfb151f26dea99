package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	mu          sync.Mutex
	cutoffs     []time.Time
	userCutoffs map[string]time.Time
	deleted     int64
}

func newFakeDeleter(deleted int64) *fakeDeleter {
	return &fakeDeleter{userCutoffs: make(map[string]time.Time), deleted: deleted}
}

func (f *fakeDeleter) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, nil
}

func (f *fakeDeleter) DeleteStaleForUser(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCutoffs[userID] = cutoff
	return f.deleted, nil
}

func (f *fakeDeleter) userCutoff(userID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff, ok := f.userCutoffs[userID]
	return cutoff, ok
}

func TestSweeperPurgeAppliesRetentionWindow(t *testing.T) {
	deleter := newFakeDeleter(3)
	sweeper := NewSweeperService(deleter, nil, nil, SweeperConfig{RetentionWindow: 24 * time.Hour})

	deleted, err := sweeper.Purge(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	require.Len(t, deleter.cutoffs, 1)
	// The cutoff sits one retention window in the past, so rows that only
	// just expired survive for forensic inspection.
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), deleter.cutoffs[0], 5*time.Second)
}

func TestSweeperPurgeForUser(t *testing.T) {
	deleter := newFakeDeleter(1)
	sweeper := NewSweeperService(deleter, nil, nil, SweeperConfig{RetentionWindow: time.Hour})

	deleted, err := sweeper.Purge(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	cutoff, ok := deleter.userCutoff("u1")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), cutoff, 5*time.Second)
	assert.Empty(t, deleter.cutoffs)
}

func TestSweeperEnqueueUserSweepRunsAsync(t *testing.T) {
	deleter := newFakeDeleter(2)
	sweeper := NewSweeperService(deleter, nil, nil, SweeperConfig{
		RetentionWindow: time.Hour,
		SweepInterval:   time.Hour,
		WorkerCount:     2,
	})

	sweeper.Start(context.Background())
	defer sweeper.Stop()

	require.NoError(t, sweeper.EnqueueUserSweep("u7"))

	require.Eventually(t, func() bool {
		_, ok := deleter.userCutoff("u7")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeperEnqueueBeforeStartFails(t *testing.T) {
	sweeper := NewSweeperService(newFakeDeleter(0), nil, nil, SweeperConfig{})
	assert.Error(t, sweeper.EnqueueUserSweep("u1"))
}
