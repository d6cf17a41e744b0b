// Package policy resolves per-tenant lock tunables. Managers read the
// policy on every call, so a settings change takes effect on the next
// operation, never retroactively.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketvia/seatlease/internal/domain"
	redisx "github.com/ticketvia/seatlease/internal/redis"
	"github.com/ticketvia/seatlease/internal/repository"
	redisrepo "github.com/ticketvia/seatlease/internal/repository/redis"
)

// Administrative clamps. Values outside these ranges are pulled back in
// silently; zero means "use the default".
const (
	DefaultLeaseDurationMinutes     = 15
	DefaultWarningThresholdMinutes  = 3
	DefaultSweepIntervalMinutes     = 5
	DefaultRestorationWindowMinutes = 5

	minLeaseDuration, maxLeaseDuration         = 1, 240
	minWarningThreshold, maxWarningThreshold   = 1, 30
	minSweepInterval, maxSweepInterval         = 1, 60
	minRestorationWindow, maxRestorationWindow = 0, 30
)

type Config struct {
	CacheTTL time.Duration
}

type Service struct {
	store repository.PolicyStore
	cache *redisrepo.Cache
	cfg   Config
}

func New(store repository.PolicyStore, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// Default is the policy for tenants that never customized their settings.
func Default(tenantID string) domain.LockPolicy {
	return domain.LockPolicy{
		TenantID:                 tenantID,
		LeaseDurationMinutes:     DefaultLeaseDurationMinutes,
		WarningThresholdMinutes:  DefaultWarningThresholdMinutes,
		SweepIntervalMinutes:     DefaultSweepIntervalMinutes,
		RestorationWindowMinutes: DefaultRestorationWindowMinutes,
		AutoCleanupEnabled:       true,
		NotificationsEnabled:     true,
		RestorationEnabled:       true,
	}
}

// Get returns the tenant's effective policy, defaults applied and clamped.
func (s *Service) Get(ctx context.Context, tenantID string) (domain.LockPolicy, error) {
	const op = "service.policy.Get"

	load := func(ctx context.Context) (domain.LockPolicy, error) {
		p, err := s.store.GetPolicy(ctx, tenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Default(tenantID), nil
			}
			return domain.LockPolicy{}, err
		}
		return Clamp(*p), nil
	}

	if s.cache == nil {
		p, err := load(ctx)
		if err != nil {
			return domain.LockPolicy{}, fmt.Errorf("%s:%w", op, err)
		}
		return p, nil
	}

	p, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyTenantPolicy(tenantID), s.cfg.CacheTTL, load)
	if err != nil {
		return domain.LockPolicy{}, fmt.Errorf("%s:%w", op, err)
	}

	return p, nil
}

// Update clamps and persists the tenant's settings, then drops the cached
// copy so the next lease operation sees the new values.
func (s *Service) Update(ctx context.Context, p domain.LockPolicy) (domain.LockPolicy, error) {
	const op = "service.policy.Update"

	if p.TenantID == "" {
		return domain.LockPolicy{}, fmt.Errorf("%s: missing tenant id", op)
	}

	clamped := Clamp(p)

	if err := s.store.UpsertPolicy(ctx, &clamped); err != nil {
		return domain.LockPolicy{}, fmt.Errorf("%s:%w", op, err)
	}

	if s.cache != nil {
		_ = s.cache.InvalidateTenantPolicy(ctx, p.TenantID)
	}

	return clamped, nil
}

// Clamp applies defaults to zero fields and pulls the rest into the
// administrative ranges.
func Clamp(p domain.LockPolicy) domain.LockPolicy {
	p.LeaseDurationMinutes = clampValue(p.LeaseDurationMinutes,
		DefaultLeaseDurationMinutes, minLeaseDuration, maxLeaseDuration)
	p.WarningThresholdMinutes = clampValue(p.WarningThresholdMinutes,
		DefaultWarningThresholdMinutes, minWarningThreshold, maxWarningThreshold)
	p.SweepIntervalMinutes = clampValue(p.SweepIntervalMinutes,
		DefaultSweepIntervalMinutes, minSweepInterval, maxSweepInterval)

	if p.RestorationWindowMinutes == 0 {
		p.RestorationWindowMinutes = DefaultRestorationWindowMinutes
	} else {
		p.RestorationWindowMinutes = clampValue(p.RestorationWindowMinutes,
			DefaultRestorationWindowMinutes, minRestorationWindow, maxRestorationWindow)
	}

	return p
}

func clampValue(v, def, min, max int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
