// Package lease is the lease manager: the one place that acquires, renews,
// releases, and promotes seat leases. Admin and diagnostic surfaces call in
// here; none of them reimplement the conditional-write logic.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/queue"
	"github.com/ticketvia/seatlease/internal/repository"
	"github.com/ticketvia/seatlease/internal/service/policy"
)

// Notifier is the realtime fire-and-forget sink announcing lock changes to
// other viewers of the same map. Failures never fail the lease operation.
type Notifier interface {
	LeaseLocked(ctx context.Context, l *domain.Lease) error
	LeasesReleased(ctx context.Context, tenantID string, functionID int64, seatIDs []string) error
}

// EventPublisher feeds the notification center. Gated per tenant by the
// notificationsEnabled policy toggle.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.LockEvent) error
}

// SessionIndex is the derived holder -> seats view kept for fast restores.
type SessionIndex interface {
	Add(ctx context.Context, tenantID string, functionID int64, holder, seatID string) error
	Remove(ctx context.Context, tenantID string, functionID int64, holder string, seatIDs ...string) error
}

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type Config struct {
	// LocatorAttempts bounds regeneration when a generated group code
	// collides with a registered one.
	LocatorAttempts int
}

type Service struct {
	leases   repository.LeaseStore
	policies *policy.Service
	sessions SessionIndex
	pubsub   Notifier
	events   EventPublisher
	limiter  Limiter
	logger   *slog.Logger
	cfg      Config
}

func New(
	leases repository.LeaseStore,
	policies *policy.Service,
	sessions SessionIndex,
	pubsub Notifier,
	events EventPublisher,
	limiter Limiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.LocatorAttempts <= 0 {
		cfg.LocatorAttempts = 5
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		leases:   leases,
		policies: policies,
		sessions: sessions,
		pubsub:   pubsub,
		events:   events,
		limiter:  limiter,
		logger:   logger,
		cfg:      cfg,
	}
}

// AcquireRequest identifies one seat claim. Holder is an authenticated user
// ID or an anonymous session ID; the manager does not care which. An empty
// Locator starts a new group and gets a generated code.
type AcquireRequest struct {
	TenantID   string
	FunctionID int64
	SeatID     string
	Holder     string
	LockType   domain.LockType
	TableID    string
	ZoneID     string
	Locator    string
	RateKey    string
}

// Acquire claims the seat or fails with ErrSeatConflict. An expired lease or
// one already owned by the same holder is overwritten with a fresh expiry,
// so a retry by the same shopper is idempotent. There is no queueing: the
// caller offers the shopper another seat on conflict.
func (s *Service) Acquire(ctx context.Context, req AcquireRequest) (*domain.Lease, error) {
	const op = "service.lease.Acquire"

	if req.TenantID == "" || req.SeatID == "" || req.Holder == "" {
		return nil, fmt.Errorf("%s: tenant, seat and holder are required", op)
	}

	if req.LockType == "" {
		req.LockType = domain.LockSeat
	}

	if req.LockType == domain.LockTable && req.TableID == "" {
		return nil, fmt.Errorf("%s: table lock requires a table id", op)
	}

	pol, err := s.policies.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if s.limiter != nil && req.RateKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, req.RateKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	locator := req.Locator
	if locator == "" {
		locator, err = s.registerLocator(ctx, req.TenantID, req.FunctionID, req.Holder)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	l, err := s.leases.Acquire(ctx, repository.AcquireParams{
		TenantID:   req.TenantID,
		FunctionID: req.FunctionID,
		SeatID:     req.SeatID,
		Holder:     req.Holder,
		LockType:   req.LockType,
		TableID:    req.TableID,
		ZoneID:     req.ZoneID,
		Locator:    locator,
		TTL:        pol.LeaseDuration(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSeatLocked) {
			return nil, fmt.Errorf("%s:%w", op, ErrSeatConflict)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.afterLocked(ctx, pol, l)

	return l, nil
}

// Renew pushes the holder's lease out to now plus the tenant's duration.
// ErrLeaseNotFound covers both "no such lease" and "not yours": the caller
// treats the seat as lost and re-acquires.
func (s *Service) Renew(ctx context.Context, tenantID string, functionID int64, seatID, holder string) (*domain.Lease, error) {
	const op = "service.lease.Renew"

	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	l, err := s.leases.Renew(ctx, tenantID, functionID, seatID, holder, pol.LeaseDuration())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrLeaseNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return l, nil
}

// Release drops the lease. Idempotent: releasing a seat that is already
// free succeeds. An empty holder is the administrative override.
func (s *Service) Release(ctx context.Context, tenantID string, functionID int64, seatID, holder string) error {
	const op = "service.lease.Release"

	if err := s.leases.Release(ctx, tenantID, functionID, seatID, holder); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.afterReleased(ctx, tenantID, functionID, holder, "", []string{seatID})

	return nil
}

// ReleaseByLocator drops the whole cart in one logical operation.
func (s *Service) ReleaseByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	const op = "service.lease.ReleaseByLocator"

	released, err := s.leases.ReleaseByLocator(ctx, tenantID, locator)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	for functionID, leases := range groupByFunction(released) {
		seatIDs := make([]string, 0, len(leases))
		holder := ""
		for _, l := range leases {
			seatIDs = append(seatIDs, l.SeatID)
			holder = l.Holder
		}
		s.afterReleased(ctx, tenantID, functionID, holder, locator, seatIDs)
	}

	return released, nil
}

// Query returns live leases for a function, optionally one holder's. No
// ordering guarantee; diagnostics sort by LockedAt.
func (s *Service) Query(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	const op = "service.lease.Query"

	leases, err := s.leases.ListByFunction(ctx, tenantID, functionID, holder)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return leases, nil
}

// QueryLocator returns the group's leases, live or expired. A released or
// promoted group comes back empty.
func (s *Service) QueryLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	const op = "service.lease.QueryLocator"

	leases, err := s.leases.ListByLocator(ctx, tenantID, locator)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return leases, nil
}

// PromoteToSale converts the locator group to a sale, all seats or none.
// expectedSeats is the cart's member list; a seat that expired and was
// re-acquired by someone else no longer carries this locator, so membership
// cannot be reconstructed from the group alone.
func (s *Service) PromoteToSale(ctx context.Context, tenantID, locator string, expectedSeats []string) (*domain.Sale, error) {
	const op = "service.lease.PromoteToSale"

	sale, lost, err := s.leases.PromoteLocator(ctx, tenantID, locator, expectedSeats)
	if err != nil {
		if errors.Is(err, repository.ErrSeatsLost) {
			return nil, fmt.Errorf("%s:%w", op, &PartialPromotionError{Locator: locator, LostSeats: lost})
		}
		if errors.Is(err, repository.ErrEmptyGroup) {
			return nil, fmt.Errorf("%s:%w", op, ErrLocatorEmpty)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pol, perr := s.policies.Get(ctx, tenantID)

	if s.pubsub != nil {
		_ = s.pubsub.LeasesReleased(ctx, tenantID, sale.FunctionID, sale.SeatIDs)
	}

	if s.events != nil && perr == nil && pol.NotificationsEnabled {
		_ = s.events.Publish(ctx, queue.LockEvent{
			Type:       queue.TypePromoted,
			TenantID:   tenantID,
			FunctionID: sale.FunctionID,
			SeatIDs:    sale.SeatIDs,
			Locator:    locator,
		})
	}

	return sale, nil
}

func (s *Service) registerLocator(ctx context.Context, tenantID string, functionID int64, holder string) (string, error) {
	for i := 0; i < s.cfg.LocatorAttempts; i++ {
		code := newLocator()

		err := s.leases.RegisterLocator(ctx, tenantID, code, functionID, holder)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, repository.ErrLocatorTaken) {
			continue
		}
		return "", err
	}

	return "", fmt.Errorf("locator generation exhausted after %d attempts", s.cfg.LocatorAttempts)
}

// afterLocked runs the best-effort side effects of a successful acquire:
// session index update, realtime push, notification event. None of them can
// fail the acquire that already committed.
func (s *Service) afterLocked(ctx context.Context, pol domain.LockPolicy, l *domain.Lease) {
	if s.sessions != nil {
		if err := s.sessions.Add(ctx, l.TenantID, l.FunctionID, l.Holder, l.SeatID); err != nil {
			s.logger.Warn("session index update failed", "seat", l.SeatID, "error", err)
		}
	}

	if s.pubsub != nil {
		_ = s.pubsub.LeaseLocked(ctx, l)
	}

	if s.events != nil && pol.NotificationsEnabled {
		_ = s.events.Publish(ctx, queue.LockEvent{
			Type:       queue.TypeLocked,
			TenantID:   l.TenantID,
			FunctionID: l.FunctionID,
			SeatIDs:    []string{l.SeatID},
			Holder:     l.Holder,
			Locator:    l.Locator,
			ExpiresAt:  l.ExpiresAt,
		})
	}
}

func (s *Service) afterReleased(ctx context.Context, tenantID string, functionID int64, holder, locator string, seatIDs []string) {
	if s.sessions != nil && holder != "" {
		if err := s.sessions.Remove(ctx, tenantID, functionID, holder, seatIDs...); err != nil {
			s.logger.Warn("session index removal failed", "error", err)
		}
	}

	if s.pubsub != nil {
		_ = s.pubsub.LeasesReleased(ctx, tenantID, functionID, seatIDs)
	}

	if s.events == nil {
		return
	}

	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil || !pol.NotificationsEnabled {
		return
	}

	_ = s.events.Publish(ctx, queue.LockEvent{
		Type:       queue.TypeReleased,
		TenantID:   tenantID,
		FunctionID: functionID,
		SeatIDs:    seatIDs,
		Holder:     holder,
		Locator:    locator,
	})
}

func groupByFunction(leases []domain.Lease) map[int64][]domain.Lease {
	out := make(map[int64][]domain.Lease)
	for _, l := range leases {
		out[l.FunctionID] = append(out[l.FunctionID], l)
	}

	return out
}
