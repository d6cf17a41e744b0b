package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketvia/seatlease/internal/repository"
	"github.com/ticketvia/seatlease/internal/repository/memory"
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

func newTestSweeper(t *testing.T) (*Sweeper, *memory.Store, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.Now = clock.Now

	policies := policy.New(store, nil, policy.Config{})
	sw := New(store, policies, nil, nil, nil, time.Minute)
	sw.now = clock.Now

	return sw, store, clock
}

func seatCount(t *testing.T, store *memory.Store, tenantID string) int {
	t.Helper()

	// zero grace counts every physically present row
	leases, err := store.ListByHolder(context.Background(), tenantID, 1, "sess-1", 100*time.Hour)
	require.NoError(t, err)

	return len(leases)
}

func lock(t *testing.T, store *memory.Store, tenantID, seatID string, ttl time.Duration) {
	t.Helper()

	_, err := store.Acquire(context.Background(), repository.AcquireParams{
		TenantID:   tenantID,
		FunctionID: 1,
		SeatID:     seatID,
		Holder:     "sess-1",
		Locator:    "LOC" + seatID,
		TTL:        ttl,
	})
	require.NoError(t, err)
}

func TestSweepEvictsExpiredOnly(t *testing.T) {
	sw, store, clock := newTestSweeper(t)

	lock(t, store, "acme", "A-1", 5*time.Minute)
	lock(t, store, "acme", "A-2", 30*time.Minute)

	// past A-1's expiry plus the default 5 minute restoration window
	clock.Advance(11 * time.Minute)

	sw.SweepOnce(context.Background())

	assert.Equal(t, 1, seatCount(t, store, "acme"))
}

func TestSweepWaitsOutRestorationWindow(t *testing.T) {
	sw, store, clock := newTestSweeper(t)

	lock(t, store, "acme", "A-1", 5*time.Minute)

	// expired, but still inside the restoration window
	clock.Advance(7 * time.Minute)

	sw.SweepOnce(context.Background())

	assert.Equal(t, 1, seatCount(t, store, "acme"))
}

func TestSweepSkipsDisabledTenant(t *testing.T) {
	sw, store, clock := newTestSweeper(t)

	pol := policy.Default("acme")
	pol.AutoCleanupEnabled = false
	require.NoError(t, store.UpsertPolicy(context.Background(), &pol))

	lock(t, store, "acme", "A-1", 5*time.Minute)

	clock.Advance(time.Hour)

	sw.SweepOnce(context.Background())

	assert.Equal(t, 1, seatCount(t, store, "acme"))
}

func TestSweepHonorsTenantInterval(t *testing.T) {
	sw, store, clock := newTestSweeper(t)

	lock(t, store, "acme", "A-1", 30*time.Minute)

	// first pass records the run without evicting anything
	sw.SweepOnce(context.Background())

	lock(t, store, "acme", "A-2", 1*time.Minute)

	// A-2 is long past expiry and grace, but the tenant's 5 minute sweep
	// interval has not elapsed since the first pass
	clock.Advance(4 * time.Minute)
	sw.SweepOnce(context.Background())
	assert.Equal(t, 2, seatCount(t, store, "acme"))

	clock.Advance(4 * time.Minute)
	sw.SweepOnce(context.Background())
	assert.Equal(t, 1, seatCount(t, store, "acme"))
}

func TestSweepRunStopsOnContextCancel(t *testing.T) {
	sw, _, _ := newTestSweeper(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
