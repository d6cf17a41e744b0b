package repository

import (
	"context"
	"time"

	"github.com/ticketvia/seatlease/internal/domain"
)

// AcquireParams carries everything needed for one conditional seat claim.
// TTL is already resolved from the tenant's lock policy by the caller.
type AcquireParams struct {
	TenantID   string
	FunctionID int64
	SeatID     string
	Holder     string
	LockType   domain.LockType
	TableID    string
	ZoneID     string
	Locator    string
	TTL        time.Duration
}

// LeaseStore is the durable lease table. Implementations must make Acquire a
// single atomic check-and-set on (tenant, function, seat): an existing
// non-expired lease with a different holder wins and the call fails with
// ErrSeatLocked; an expired lease or one owned by the same holder is
// overwritten. Read-then-write implementations are incorrect.
type LeaseStore interface {
	// Acquire claims the seat or fails with ErrSeatLocked.
	Acquire(ctx context.Context, p AcquireParams) (*domain.Lease, error)

	// Renew extends the holder's lease to now+ttl, never shortening it.
	// ErrNotFound when no live lease belongs to this holder.
	Renew(ctx context.Context, tenantID string, functionID int64, seatID, holder string, ttl time.Duration) (*domain.Lease, error)

	// Release deletes the holder's lease. An empty holder is the
	// administrative override and deletes regardless of owner. Releasing a
	// missing lease is a no-op.
	Release(ctx context.Context, tenantID string, functionID int64, seatID, holder string) error

	// ReleaseByLocator drops every lease in the group in one transaction and
	// returns the seats that were released.
	ReleaseByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error)

	// RegisterLocator reserves a group code. ErrLocatorTaken when another
	// cart already uses it; callers regenerate and retry.
	RegisterLocator(ctx context.Context, tenantID, locator string, functionID int64, holder string) error

	// ListByFunction returns live leases for a function, optionally filtered
	// by holder. No ordering guarantee.
	ListByFunction(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error)

	// ListByHolder returns the holder's leases whose expiry is no older than
	// grace before now; grace > 0 includes recently expired rows that the
	// restoration window still protects.
	ListByHolder(ctx context.Context, tenantID string, functionID int64, holder string, grace time.Duration) ([]domain.Lease, error)

	// ListByLocator returns the group's leases, live or not.
	ListByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error)

	// PromoteLocator converts the whole group to a sale in one transaction.
	// expectedSeats is the cart's view of its members; any expected seat that
	// is missing from the group or expired aborts the promotion and is
	// reported in lost. ErrEmptyGroup when nothing remains under the locator.
	PromoteLocator(ctx context.Context, tenantID, locator string, expectedSeats []string) (sale *domain.Sale, lost []string, err error)

	// SweepExpired deletes leases whose expiry passed more than grace ago,
	// re-checking expiry at delete time, and returns the evicted rows.
	SweepExpired(ctx context.Context, tenantID string, grace time.Duration) ([]domain.Lease, error)

	// ActiveTenants lists tenants that currently have lease rows.
	ActiveTenants(ctx context.Context) ([]string, error)
}

// PolicyStore persists per-tenant lock policies. GetPolicy returns
// ErrNotFound for tenants that never customized their settings.
type PolicyStore interface {
	GetPolicy(ctx context.Context, tenantID string) (*domain.LockPolicy, error)
	UpsertPolicy(ctx context.Context, p *domain.LockPolicy) error
}
