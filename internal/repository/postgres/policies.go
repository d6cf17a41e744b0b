package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
)

// PolicyRepo persists the tenant_lock_policies table: one row per tenant that
// customized its lock settings. Tenants without a row run on defaults, which
// the policy service supplies.
type PolicyRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.PolicyStore = (*PolicyRepo)(nil)

func (r *PolicyRepo) With(db DB) *PolicyRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PolicyRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *PolicyRepo) GetPolicy(ctx context.Context, tenantID string) (*domain.LockPolicy, error) {
	const op = "postgres.PolicyRepo.GetPolicy"

	db := r.handle()

	var p domain.LockPolicy
	err := db.QueryRow(ctx,
		`SELECT tenant_id, lease_duration_minutes, warning_threshold_minutes,
		        sweep_interval_minutes, restoration_window_minutes,
		        auto_cleanup_enabled, notifications_enabled, restoration_enabled
		   FROM tenant_lock_policies
		  WHERE tenant_id = $1`,
		tenantID,
	).Scan(
		&p.TenantID, &p.LeaseDurationMinutes, &p.WarningThresholdMinutes,
		&p.SweepIntervalMinutes, &p.RestorationWindowMinutes,
		&p.AutoCleanupEnabled, &p.NotificationsEnabled, &p.RestorationEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return nil, wrapDBErr(op, err)
	}

	return &p, nil
}

func (r *PolicyRepo) UpsertPolicy(ctx context.Context, p *domain.LockPolicy) error {
	const op = "postgres.PolicyRepo.UpsertPolicy"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO tenant_lock_policies (tenant_id, lease_duration_minutes,
		        warning_threshold_minutes, sweep_interval_minutes,
		        restoration_window_minutes, auto_cleanup_enabled,
		        notifications_enabled, restoration_enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (tenant_id) DO UPDATE
		    SET lease_duration_minutes     = EXCLUDED.lease_duration_minutes,
		        warning_threshold_minutes  = EXCLUDED.warning_threshold_minutes,
		        sweep_interval_minutes     = EXCLUDED.sweep_interval_minutes,
		        restoration_window_minutes = EXCLUDED.restoration_window_minutes,
		        auto_cleanup_enabled       = EXCLUDED.auto_cleanup_enabled,
		        notifications_enabled      = EXCLUDED.notifications_enabled,
		        restoration_enabled        = EXCLUDED.restoration_enabled,
		        updated_at                 = now()`,
		p.TenantID, p.LeaseDurationMinutes, p.WarningThresholdMinutes,
		p.SweepIntervalMinutes, p.RestorationWindowMinutes,
		p.AutoCleanupEnabled, p.NotificationsEnabled, p.RestorationEnabled,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
