// Package session tracks which seats a shopper's session holds, restores
// them after a page reload, and bulk-releases them on checkout or abandon.
// It is a thin layer over the lease manager; it never touches lock rows
// directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/service/policy"
)

// Index is the derived holder -> seats view. Optional; the lease store is
// always the authority.
type Index interface {
	Members(ctx context.Context, tenantID string, functionID int64, holder string) ([]string, error)
	Remove(ctx context.Context, tenantID string, functionID int64, holder string, seatIDs ...string) error
	Clear(ctx context.Context, tenantID string, functionID int64, holder string) error
}

type Service struct {
	leases   repository.LeaseStore
	manager  *lease.Service
	policies *policy.Service
	index    Index
	logger   *slog.Logger
}

func New(
	leases repository.LeaseStore,
	manager *lease.Service,
	policies *policy.Service,
	index Index,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		leases:   leases,
		manager:  manager,
		policies: policies,
		index:    index,
		logger:   logger,
	}
}

// Active returns the seats this holder currently has live leases on. The
// lease store is the authority; the redis index is repaired against it so a
// drifted entry does not survive past the next call.
func (s *Service) Active(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	const op = "service.session.Active"

	leases, err := s.leases.ListByFunction(ctx, tenantID, functionID, holder)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.repairIndex(ctx, tenantID, functionID, holder, leases)

	return leases, nil
}

func (s *Service) repairIndex(ctx context.Context, tenantID string, functionID int64, holder string, leases []domain.Lease) {
	if s.index == nil {
		return
	}

	indexed, err := s.index.Members(ctx, tenantID, functionID, holder)
	if err != nil {
		s.logger.Warn("session index read failed", "holder", holder, "error", err)
		return
	}

	held := make(map[string]struct{}, len(leases))
	for _, l := range leases {
		held[l.SeatID] = struct{}{}
	}

	var stale []string
	for _, seatID := range indexed {
		if _, ok := held[seatID]; !ok {
			stale = append(stale, seatID)
		}
	}
	if len(stale) == 0 {
		return
	}

	if err := s.index.Remove(ctx, tenantID, functionID, holder, stale...); err != nil {
		s.logger.Warn("session index repair failed", "holder", holder, "error", err)
	}
}

// Restore reclaims the holder's prior leases after a reload or disconnect.
// The check is server side: a lease qualifies when its own expiry is within
// the tenant's restoration window, regardless of what the client's clock or
// storage claims. Each qualifying seat is re-acquired, which refreshes the
// expiry; a seat that a concurrent shopper won in the meantime is simply
// dropped from the result.
func (s *Service) Restore(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	const op = "service.session.Restore"

	if holder == "" {
		return nil, fmt.Errorf("%s: holder is required", op)
	}

	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !pol.RestorationEnabled {
		return s.Active(ctx, tenantID, functionID, holder)
	}

	prior, err := s.leases.ListByHolder(ctx, tenantID, functionID, holder, pol.RestorationWindow())
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	restored := make([]domain.Lease, 0, len(prior))
	for _, old := range prior {
		l, err := s.manager.Acquire(ctx, lease.AcquireRequest{
			TenantID:   tenantID,
			FunctionID: functionID,
			SeatID:     old.SeatID,
			Holder:     holder,
			LockType:   old.LockType,
			TableID:    old.TableID,
			ZoneID:     old.ZoneID,
			Locator:    old.Locator,
		})
		if err != nil {
			if errors.Is(err, lease.ErrSeatConflict) {
				s.logger.Info("seat lost during restoration",
					"seat", old.SeatID, "function", functionID, "holder", holder)
				continue
			}
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		restored = append(restored, *l)
	}

	return restored, nil
}

// ReleaseAll drops every seat tied to the session, locator groups first so
// group releases stay atomic, then any stragglers seat by seat.
func (s *Service) ReleaseAll(ctx context.Context, tenantID string, functionID int64, holder string) error {
	const op = "service.session.ReleaseAll"

	held, err := s.leases.ListByFunction(ctx, tenantID, functionID, holder)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	locators := make(map[string]struct{})
	for _, l := range held {
		if l.Locator != "" {
			locators[l.Locator] = struct{}{}
		}
	}

	for locator := range locators {
		if _, err := s.manager.ReleaseByLocator(ctx, tenantID, locator); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	for _, l := range held {
		if l.Locator != "" {
			continue
		}
		if err := s.manager.Release(ctx, tenantID, functionID, l.SeatID, holder); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	if s.index != nil {
		if err := s.index.Clear(ctx, tenantID, functionID, holder); err != nil {
			s.logger.Warn("session index clear failed", "holder", holder, "error", err)
		}
	}

	return nil
}
