// Package memory holds a mutex-guarded implementation of the repository
// ports. It backs the test suites and local development; the durable
// postgres store is the production implementation. The Now hook lets tests
// move the clock without sleeping.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
)

type leaseKey struct {
	tenantID   string
	functionID int64
	seatID     string
}

type locatorKey struct {
	tenantID string
	locator  string
}

type Store struct {
	mu       sync.Mutex
	leases   map[leaseKey]domain.Lease
	locators map[locatorKey]time.Time
	policies map[string]domain.LockPolicy
	sales    []domain.Sale

	// Now is the clock for every expiry comparison. Tests override it.
	Now func() time.Time
}

var (
	_ repository.LeaseStore  = (*Store)(nil)
	_ repository.PolicyStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		leases:   make(map[leaseKey]domain.Lease),
		locators: make(map[locatorKey]time.Time),
		policies: make(map[string]domain.LockPolicy),
		Now:      time.Now,
	}
}

func (s *Store) Acquire(ctx context.Context, p repository.AcquireParams) (*domain.Lease, error) {
	const op = "memory.Store.Acquire"

	if p.TTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be positive", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	key := leaseKey{p.TenantID, p.FunctionID, p.SeatID}

	if existing, ok := s.leases[key]; ok {
		if !existing.Expired(now) && existing.Holder != p.Holder {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrSeatLocked)
		}
	}

	lease := domain.Lease{
		SeatID:     p.SeatID,
		FunctionID: p.FunctionID,
		TenantID:   p.TenantID,
		Holder:     p.Holder,
		LockType:   p.LockType,
		TableID:    p.TableID,
		ZoneID:     p.ZoneID,
		Locator:    p.Locator,
		Status:     domain.StatusLocked,
		LockedAt:   now,
		ExpiresAt:  now.Add(p.TTL),
	}
	s.leases[key] = lease

	return &lease, nil
}

func (s *Store) Renew(
	ctx context.Context,
	tenantID string,
	functionID int64,
	seatID, holder string,
	ttl time.Duration,
) (*domain.Lease, error) {
	const op = "memory.Store.Renew"

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	key := leaseKey{tenantID, functionID, seatID}

	lease, ok := s.leases[key]
	if !ok || lease.Expired(now) || lease.Holder != holder {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	lease.LockedAt = now
	if next := now.Add(ttl); next.After(lease.ExpiresAt) {
		lease.ExpiresAt = next
	}
	s.leases[key] = lease

	return &lease, nil
}

func (s *Store) Release(
	ctx context.Context,
	tenantID string,
	functionID int64,
	seatID, holder string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := leaseKey{tenantID, functionID, seatID}
	if lease, ok := s.leases[key]; ok {
		if holder == "" || lease.Holder == holder {
			delete(s.leases, key)
		}
	}

	return nil
}

func (s *Store) ReleaseByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []domain.Lease
	for key, lease := range s.leases {
		if key.tenantID == tenantID && lease.Locator == locator {
			released = append(released, lease)
			delete(s.leases, key)
		}
	}
	delete(s.locators, locatorKey{tenantID, locator})

	return released, nil
}

func (s *Store) RegisterLocator(ctx context.Context, tenantID, locator string, functionID int64, holder string) error {
	const op = "memory.Store.RegisterLocator"

	s.mu.Lock()
	defer s.mu.Unlock()

	key := locatorKey{tenantID, locator}
	if _, ok := s.locators[key]; ok {
		return fmt.Errorf("%s:%w", op, repository.ErrLocatorTaken)
	}
	s.locators[key] = s.Now()

	return nil
}

func (s *Store) ListByFunction(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()

	var leases []domain.Lease
	for key, lease := range s.leases {
		if key.tenantID != tenantID || key.functionID != functionID {
			continue
		}
		if lease.Expired(now) {
			continue
		}
		if holder != "" && lease.Holder != holder {
			continue
		}
		leases = append(leases, lease)
	}

	return leases, nil
}

func (s *Store) ListByHolder(
	ctx context.Context,
	tenantID string,
	functionID int64,
	holder string,
	grace time.Duration,
) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.Now().Add(-grace)

	var leases []domain.Lease
	for key, lease := range s.leases {
		if key.tenantID != tenantID || key.functionID != functionID || lease.Holder != holder {
			continue
		}
		if !lease.ExpiresAt.After(cutoff) {
			continue
		}
		leases = append(leases, lease)
	}

	return leases, nil
}

func (s *Store) ListByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var leases []domain.Lease
	for key, lease := range s.leases {
		if key.tenantID == tenantID && lease.Locator == locator {
			leases = append(leases, lease)
		}
	}

	return leases, nil
}

func (s *Store) PromoteLocator(
	ctx context.Context,
	tenantID, locator string,
	expectedSeats []string,
) (*domain.Sale, []string, error) {
	const op = "memory.Store.PromoteLocator"

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()

	group := make(map[string]domain.Lease)
	var functionID int64
	for key, lease := range s.leases {
		if key.tenantID == tenantID && lease.Locator == locator {
			group[key.seatID] = lease
			functionID = key.functionID
		}
	}

	if len(group) == 0 {
		return nil, expectedSeats, fmt.Errorf("%s:%w", op, repository.ErrEmptyGroup)
	}

	seats := expectedSeats
	if len(seats) == 0 {
		seats = make([]string, 0, len(group))
		for sid := range group {
			seats = append(seats, sid)
		}
	}

	var lost []string
	for _, sid := range seats {
		lease, ok := group[sid]
		if !ok || lease.Expired(now) {
			lost = append(lost, sid)
		}
	}
	if len(lost) > 0 {
		return nil, lost, fmt.Errorf("%s:%w", op, repository.ErrSeatsLost)
	}

	for _, sid := range seats {
		delete(s.leases, leaseKey{tenantID, functionID, sid})
	}
	delete(s.locators, locatorKey{tenantID, locator})

	sale := domain.Sale{
		ID:         uuid.New(),
		TenantID:   tenantID,
		FunctionID: functionID,
		Locator:    locator,
		SeatIDs:    seats,
		CreatedAt:  now,
	}
	s.sales = append(s.sales, sale)

	return &sale, nil, nil
}

func (s *Store) SweepExpired(ctx context.Context, tenantID string, grace time.Duration) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.Now().Add(-grace)

	var evicted []domain.Lease
	for key, lease := range s.leases {
		if key.tenantID != tenantID {
			continue
		}
		if lease.ExpiresAt.After(cutoff) {
			continue
		}
		evicted = append(evicted, lease)
		delete(s.leases, key)
	}

	return evicted, nil
}

func (s *Store) ActiveTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var tenants []string
	for key := range s.leases {
		if _, ok := seen[key.tenantID]; ok {
			continue
		}
		seen[key.tenantID] = struct{}{}
		tenants = append(tenants, key.tenantID)
	}

	return tenants, nil
}

func (s *Store) GetPolicy(ctx context.Context, tenantID string) (*domain.LockPolicy, error) {
	const op = "memory.Store.GetPolicy"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[tenantID]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return &p, nil
}

func (s *Store) UpsertPolicy(ctx context.Context, p *domain.LockPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[p.TenantID] = *p

	return nil
}

// Sales returns the promotion records written so far. Test helper.
func (s *Store) Sales() []domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Sale, len(s.sales))
	copy(out, s.sales)

	return out
}
