package service

import (
	"log/slog"

	"github.com/ticketvia/seatlease/internal/repository"
	redisrepo "github.com/ticketvia/seatlease/internal/repository/redis"
	"github.com/ticketvia/seatlease/internal/service/diag"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/service/policy"
	"github.com/ticketvia/seatlease/internal/service/session"
)

type Services struct {
	Lease   *lease.Service
	Policy  *policy.Service
	Session *session.Service
	Diag    *diag.Service
}

type Config struct {
	Lease  lease.Config
	Policy policy.Config
}

// Deps are the collaborators beyond the row store. Any may be nil; the
// services then degrade to store-only behavior (used by the test suites).
type Deps struct {
	Cache    *redisrepo.Cache
	Sessions *redisrepo.SessionIndex
	Pubsub   lease.Notifier
	Events   lease.EventPublisher
	Limiter  lease.Limiter
	Logger   *slog.Logger
}

func NewServices(
	leases repository.LeaseStore,
	policies repository.PolicyStore,
	deps Deps,
	cfg Config,
) *Services {
	policySvc := policy.New(policies, deps.Cache, cfg.Policy)

	var sessIdx lease.SessionIndex
	var sessView session.Index
	if deps.Sessions != nil {
		sessIdx = deps.Sessions
		sessView = deps.Sessions
	}

	leaseSvc := lease.New(leases, policySvc, sessIdx, deps.Pubsub, deps.Events, deps.Limiter, deps.Logger, cfg.Lease)

	return &Services{
		Lease:   leaseSvc,
		Policy:  policySvc,
		Session: session.New(leases, leaseSvc, policySvc, sessView, deps.Logger),
		Diag:    diag.New(leaseSvc, leases, policySvc),
	}
}
