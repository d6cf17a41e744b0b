package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketvia/seatlease/internal/domain"
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

func newTestService(t *testing.T) (*Service, *memory.Store, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.Now = clock.Now

	policies := policy.New(store, nil, policy.Config{})
	svc := New(store, policies, nil, nil, nil, nil, nil, Config{})

	return svc, store, clock
}

func TestAcquireGeneratesLocator(t *testing.T) {
	svc, _, _ := newTestService(t)

	l, err := svc.Acquire(context.Background(), AcquireRequest{
		TenantID:   "acme",
		FunctionID: 1,
		SeatID:     "A-1",
		Holder:     "sess-1",
	})
	require.NoError(t, err)

	assert.Len(t, l.Locator, 8)
	assert.Equal(t, domain.LockSeat, l.LockType)
	assert.Equal(t, domain.StatusLocked, l.Status)
}

func TestAcquireConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-2",
	})
	assert.ErrorIs(t, err, ErrSeatConflict)
}

func TestAcquireSameHolderRefreshesExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	second, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
		Locator: first.Locator,
	})
	require.NoError(t, err)

	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, first.Locator, second.Locator)
}

func TestAcquireExpiredSeatGoesToNewHolder(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	// default lease duration is 15 minutes
	clock.Advance(16 * time.Minute)

	l, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-2", l.Holder)
}

func TestAcquireTableLockRequiresTableID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Acquire(context.Background(), AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "T5-1", Holder: "sess-1",
		LockType: domain.LockTable,
	})
	assert.Error(t, err)

	l, err := svc.Acquire(context.Background(), AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "T5-1", Holder: "sess-1",
		LockType: domain.LockTable, TableID: "T5",
	})
	require.NoError(t, err)
	assert.Equal(t, "T5", l.TableID)
}

func TestAcquireMutualExclusion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const contenders = 32

	var wg sync.WaitGroup
	results := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Acquire(ctx, AcquireRequest{
				TenantID:   "acme",
				FunctionID: 1,
				SeatID:     "A-1",
				Holder:     fmt.Sprintf("holder-%d", n),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSeatConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)
}

func TestRenewExtendsMonotonically(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	l, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	renewed, err := svc.Renew(ctx, "acme", 1, "A-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(l.ExpiresAt))
}

func TestRenewWrongHolder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Renew(ctx, "acme", 1, "A-1", "sess-2")
	assert.ErrorIs(t, err, ErrLeaseNotFound)
}

func TestRenewExpiredLease(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)

	_, err = svc.Renew(ctx, "acme", 1, "A-1", "sess-1")
	assert.ErrorIs(t, err, ErrLeaseNotFound)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, "acme", 1, "A-1", "sess-1"))
	require.NoError(t, svc.Release(ctx, "acme", 1, "A-1", "sess-1"))

	// seat is free again
	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-2",
	})
	assert.NoError(t, err)
}

func TestReleaseWrongHolderKeepsLease(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, "acme", 1, "A-1", "sess-2"))

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-2",
	})
	assert.ErrorIs(t, err, ErrSeatConflict)
}

func TestReleaseByLocatorEmptiesGroup(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-1",
		Locator: first.Locator,
	})
	require.NoError(t, err)

	released, err := svc.ReleaseByLocator(ctx, "acme", first.Locator)
	require.NoError(t, err)
	assert.Len(t, released, 2)

	remaining, err := svc.Query(ctx, "acme", 1, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestQueryLocatorEmptiesAfterGroupRelease(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-1",
		Locator: first.Locator,
	})
	require.NoError(t, err)

	group, err := svc.QueryLocator(ctx, "acme", first.Locator)
	require.NoError(t, err)
	assert.Len(t, group, 2)

	_, err = svc.ReleaseByLocator(ctx, "acme", first.Locator)
	require.NoError(t, err)

	group, err = svc.QueryLocator(ctx, "acme", first.Locator)
	require.NoError(t, err)
	assert.Empty(t, group)
}

func TestPromoteToSale(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-1",
		Locator: first.Locator,
	})
	require.NoError(t, err)

	sale, err := svc.PromoteToSale(ctx, "acme", first.Locator, []string{"A-1", "A-2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A-1", "A-2"}, sale.SeatIDs)
	assert.Equal(t, first.Locator, sale.Locator)

	require.Len(t, store.Sales(), 1)

	// sold seats are no longer held as locks
	remaining, err := svc.Query(ctx, "acme", 1, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPromoteToSaleLostSeat(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-1",
		Locator: first.Locator,
	})
	require.NoError(t, err)

	// A-2 expires and a rival takes it
	clock.Advance(16 * time.Minute)
	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-2",
	})
	require.NoError(t, err)

	_, err = svc.PromoteToSale(ctx, "acme", first.Locator, []string{"A-1", "A-2"})

	var partial *PartialPromotionError
	require.ErrorAs(t, err, &partial)
	assert.Contains(t, partial.LostSeats, "A-2")

	// nothing was sold
	assert.Empty(t, store.Sales())
}

func TestPromoteToSaleEmptyLocator(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.PromoteToSale(context.Background(), "acme", "NOPE1234", []string{"A-1"})
	assert.ErrorIs(t, err, ErrLocatorEmpty)
}

func TestQueryFiltersByHolder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-2", Holder: "sess-2",
	})
	require.NoError(t, err)

	all, err := svc.Query(ctx, "acme", 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.Query(ctx, "acme", 1, "sess-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "A-1", mine[0].SeatID)
}

func TestTenantsAreIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireRequest{
		TenantID: "acme", FunctionID: 1, SeatID: "A-1", Holder: "sess-1",
	})
	require.NoError(t, err)

	// same function and seat, different tenant
	_, err = svc.Acquire(ctx, AcquireRequest{
		TenantID: "globex", FunctionID: 1, SeatID: "A-1", Holder: "sess-2",
	})
	assert.NoError(t, err)
}
