package diag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketvia/seatlease/internal/repository/memory"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/service/policy"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *lease.Service, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.Now = clock.Now

	policies := policy.New(store, nil, policy.Config{})
	manager := lease.New(store, policies, nil, nil, nil, nil, nil, lease.Config{})

	return New(manager, store, policies), manager, clock
}

func acquire(t *testing.T, manager *lease.Service, seatID, holder, zoneID string) {
	t.Helper()

	_, err := manager.Acquire(context.Background(), lease.AcquireRequest{
		TenantID:   "acme",
		FunctionID: 1,
		SeatID:     seatID,
		Holder:     holder,
		ZoneID:     zoneID,
	})
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	svc, manager, _ := newTestService(t)

	acquire(t, manager, "A-1", "sess-1", "stalls")
	acquire(t, manager, "A-2", "sess-1", "stalls")
	acquire(t, manager, "B-1", "sess-2", "balcony")

	stats, err := svc.Stats(context.Background(), "acme", 1)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalActive)
	assert.Equal(t, 2, stats.ByHolder["sess-1"])
	assert.Equal(t, 1, stats.ByHolder["sess-2"])
	assert.Equal(t, 2, stats.ByZone["stalls"])
	assert.Equal(t, 1, stats.ByZone["balcony"])
}

func TestLocksSortedByAge(t *testing.T) {
	svc, manager, clock := newTestService(t)

	acquire(t, manager, "A-1", "sess-1", "")
	clock.Advance(time.Minute)
	acquire(t, manager, "A-2", "sess-2", "")

	locks, err := svc.Locks(context.Background(), "acme", 1, "")
	require.NoError(t, err)
	require.Len(t, locks, 2)

	assert.Equal(t, "A-1", locks[0].SeatID)
	assert.Equal(t, "A-2", locks[1].SeatID)
}

func TestForceRelease(t *testing.T) {
	svc, manager, _ := newTestService(t)

	acquire(t, manager, "A-1", "sess-1", "")

	require.NoError(t, svc.ForceRelease(context.Background(), "acme", 1, "A-1"))

	stats, err := svc.Stats(context.Background(), "acme", 1)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalActive)
}

func TestCleanup(t *testing.T) {
	svc, manager, clock := newTestService(t)

	acquire(t, manager, "A-1", "sess-1", "")

	// past expiry and the restoration window
	clock.Advance(25 * time.Minute)

	evicted, err := svc.Cleanup(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	evicted, err = svc.Cleanup(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, evicted)
}
