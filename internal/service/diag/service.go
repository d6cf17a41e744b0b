// Package diag backs the support troubleshooting page: lock counts, raw
// lease records, force release, and a manual cleanup trigger. Everything is
// a thin wrapper over the lease manager's query and release paths.
package diag

import (
	"context"
	"fmt"
	"sort"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/service/policy"
)

type Service struct {
	manager  *lease.Service
	leases   repository.LeaseStore
	policies *policy.Service
}

func New(manager *lease.Service, leases repository.LeaseStore, policies *policy.Service) *Service {
	return &Service{
		manager:  manager,
		leases:   leases,
		policies: policies,
	}
}

// Stats summarizes the live lock state of one function.
func (s *Service) Stats(ctx context.Context, tenantID string, functionID int64) (*domain.FunctionLockStats, error) {
	const op = "service.diag.Stats"

	leases, err := s.manager.Query(ctx, tenantID, functionID, "")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	stats := &domain.FunctionLockStats{
		FunctionID: functionID,
		ByHolder:   make(map[string]int),
		ByZone:     make(map[string]int),
	}

	for _, l := range leases {
		stats.TotalActive++
		stats.ByHolder[l.Holder]++
		if l.ZoneID != "" {
			stats.ByZone[l.ZoneID]++
		}
	}

	return stats, nil
}

// Locks returns raw lease records for support, oldest first.
func (s *Service) Locks(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	const op = "service.diag.Locks"

	leases, err := s.manager.Query(ctx, tenantID, functionID, holder)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sort.Slice(leases, func(i, j int) bool {
		return leases[i].LockedAt.Before(leases[j].LockedAt)
	})

	return leases, nil
}

// ForceRelease frees a seat regardless of holder. Support only.
func (s *Service) ForceRelease(ctx context.Context, tenantID string, functionID int64, seatID string) error {
	const op = "service.diag.ForceRelease"

	if err := s.manager.Release(ctx, tenantID, functionID, seatID, ""); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Cleanup evicts the tenant's expired leases on demand, same predicate the
// background sweeper uses.
func (s *Service) Cleanup(ctx context.Context, tenantID string) (int, error) {
	const op = "service.diag.Cleanup"

	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	evicted, err := s.leases.SweepExpired(ctx, tenantID, pol.RestorationWindow())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return len(evicted), nil
}
