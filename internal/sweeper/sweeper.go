// Package sweeper evicts expired leases so abandoned seats re-enter the
// available pool. It runs next to the shopper-facing handlers; correctness
// against concurrent renews comes from the store's delete-if-still-expired
// predicate, not from excluding the manager while a sweep runs.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/queue"
	"github.com/ticketvia/seatlease/internal/repository"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/service/policy"
)

type Sweeper struct {
	leases   repository.LeaseStore
	policies *policy.Service
	pubsub   lease.Notifier
	events   lease.EventPublisher
	logger   *slog.Logger

	// tick is how often tenants are checked for a due sweep; each tenant's
	// own sweepIntervalMinutes decides whether it actually runs.
	tick time.Duration

	lastRun map[string]time.Time
	now     func() time.Time
}

func New(
	leases repository.LeaseStore,
	policies *policy.Service,
	pubsub lease.Notifier,
	events lease.EventPublisher,
	logger *slog.Logger,
	tick time.Duration,
) *Sweeper {
	if tick <= 0 {
		tick = time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		leases:   leases,
		policies: policies,
		pubsub:   pubsub,
		events:   events,
		logger:   logger,
		tick:     tick,
		lastRun:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Run loops until ctx is done. Not safe for concurrent calls; the app runs
// exactly one sweeper goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce walks every tenant that has lease rows. A failure on one tenant
// is logged and never aborts the rest: cleanup liveness beats completeness
// of any single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	tenants, err := s.leases.ActiveTenants(ctx)
	if err != nil {
		s.logger.Error("sweep: listing tenants failed", "error", err)
		return
	}

	for _, tenantID := range tenants {
		evicted, err := s.sweepTenant(ctx, tenantID)
		if err != nil {
			s.logger.Error("sweep: tenant failed", "tenant", tenantID, "error", err)
			continue
		}
		if evicted > 0 {
			s.logger.Info("sweep: evicted expired leases", "tenant", tenantID, "count", evicted)
		}
	}
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string) (int, error) {
	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	if !pol.AutoCleanupEnabled {
		return 0, nil
	}

	now := s.now()
	if last, ok := s.lastRun[tenantID]; ok && now.Sub(last) < pol.SweepInterval() {
		return 0, nil
	}
	s.lastRun[tenantID] = now

	// Eviction waits out the restoration window so a reconnecting holder
	// can still reclaim the seat server side.
	evicted, err := s.leases.SweepExpired(ctx, tenantID, pol.RestorationWindow())
	if err != nil {
		return 0, err
	}

	s.notifyEvicted(ctx, pol, tenantID, evicted)

	return len(evicted), nil
}

func (s *Sweeper) notifyEvicted(ctx context.Context, pol domain.LockPolicy, tenantID string, evicted []domain.Lease) {
	if len(evicted) == 0 {
		return
	}

	byFunction := make(map[int64][]string)
	for _, l := range evicted {
		byFunction[l.FunctionID] = append(byFunction[l.FunctionID], l.SeatID)
	}

	for functionID, seatIDs := range byFunction {
		if s.pubsub != nil {
			_ = s.pubsub.LeasesReleased(ctx, tenantID, functionID, seatIDs)
		}

		if s.events != nil && pol.NotificationsEnabled {
			_ = s.events.Publish(ctx, queue.LockEvent{
				Type:       queue.TypeReleased,
				TenantID:   tenantID,
				FunctionID: functionID,
				SeatIDs:    seatIDs,
			})
		}
	}
}
