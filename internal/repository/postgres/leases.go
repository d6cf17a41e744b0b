package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketvia/seatlease/internal/domain"
	"github.com/ticketvia/seatlease/internal/repository"
)

// LeaseRepo is the durable lease store over three tables:
//
//	seat_locks    one row per claimed seat, PRIMARY KEY (tenant_id, function_id, seat_id)
//	seat_locators group registry, PRIMARY KEY (tenant_id, locator)
//	seat_sales    terminal record written when a group is promoted
//
// All mutual exclusion rests on the seat_locks primary key plus conditional
// writes; nothing here reads state and writes it back in a second statement.
type LeaseRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.LeaseStore = (*LeaseRepo)(nil)

func (r *LeaseRepo) With(db DB) *LeaseRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *LeaseRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const leaseCols = `tenant_id, function_id, seat_id, holder, lock_type, table_id,
                   zone_id, locator, status, locked_at, expires_at`

// Acquire claims (tenant, function, seat) for the holder in a single
// conditional upsert. The WHERE clause on the conflict arm is the whole
// correctness story: an existing row only gets overwritten when it has
// expired or already belongs to the same holder. When neither is true the
// statement affects no row and the call reports ErrSeatLocked.
func (r *LeaseRepo) Acquire(ctx context.Context, p repository.AcquireParams) (*domain.Lease, error) {
	const op = "postgres.LeaseRepo.Acquire"

	db := r.handle()

	row := db.QueryRow(ctx,
		`INSERT INTO seat_locks (tenant_id, function_id, seat_id, holder, lock_type,
		                         table_id, zone_id, locator, status, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'locked', now(), now() + make_interval(secs => $9))
		 ON CONFLICT (tenant_id, function_id, seat_id) DO UPDATE
		    SET holder     = EXCLUDED.holder,
		        lock_type  = EXCLUDED.lock_type,
		        table_id   = EXCLUDED.table_id,
		        zone_id    = EXCLUDED.zone_id,
		        locator    = EXCLUDED.locator,
		        status     = 'locked',
		        locked_at  = now(),
		        expires_at = now() + make_interval(secs => $9)
		  WHERE seat_locks.expires_at <= now()
		     OR seat_locks.holder = EXCLUDED.holder
		 RETURNING `+leaseCols,
		p.TenantID, p.FunctionID, p.SeatID, p.Holder, string(p.LockType),
		p.TableID, p.ZoneID, p.Locator, p.TTL.Seconds(),
	)

	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrSeatLocked)
		}
		return nil, wrapDBErr(op, err)
	}

	return lease, nil
}

// Renew extends the holder's live lease. GREATEST keeps expiry monotonic
// when the tenant shortened its lease duration after the original acquire.
func (r *LeaseRepo) Renew(
	ctx context.Context,
	tenantID string,
	functionID int64,
	seatID, holder string,
	ttl time.Duration,
) (*domain.Lease, error) {
	const op = "postgres.LeaseRepo.Renew"

	db := r.handle()

	row := db.QueryRow(ctx,
		`UPDATE seat_locks
		    SET locked_at  = now(),
		        expires_at = GREATEST(expires_at, now() + make_interval(secs => $5))
		  WHERE tenant_id = $1 AND function_id = $2 AND seat_id = $3
		    AND holder = $4 AND expires_at > now()
		 RETURNING `+leaseCols,
		tenantID, functionID, seatID, holder, ttl.Seconds(),
	)

	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return nil, wrapDBErr(op, err)
	}

	return lease, nil
}

// Release drops the lease. Empty holder is the administrative override used
// by diagnostics. Releasing a row that is already gone is a no-op.
func (r *LeaseRepo) Release(
	ctx context.Context,
	tenantID string,
	functionID int64,
	seatID, holder string,
) error {
	const op = "postgres.LeaseRepo.Release"

	db := r.handle()

	_, err := db.Exec(ctx,
		`DELETE FROM seat_locks
		  WHERE tenant_id = $1 AND function_id = $2 AND seat_id = $3
		    AND ($4 = '' OR holder = $4)`,
		tenantID, functionID, seatID, holder,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *LeaseRepo) ReleaseByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	const op = "postgres.LeaseRepo.ReleaseByLocator"

	if r.db != nil {
		released, err := r.releaseByLocatorCore(ctx, r.db, tenantID, locator)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		return released, nil
	}

	var released []domain.Lease

	err := NewStore(r.pool).RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		released, err = r.releaseByLocatorCore(ctx, tx, tenantID, locator)
		return err
	})
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return released, nil
}

func (r *LeaseRepo) releaseByLocatorCore(ctx context.Context, db DB, tenantID, locator string) ([]domain.Lease, error) {
	rows, err := db.Query(ctx,
		`DELETE FROM seat_locks
		  WHERE tenant_id = $1 AND locator = $2
		 RETURNING `+leaseCols,
		tenantID, locator,
	)
	if err != nil {
		return nil, err
	}

	released, err := collectLeases(rows)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM seat_locators WHERE tenant_id = $1 AND locator = $2`,
		tenantID, locator,
	); err != nil {
		return nil, err
	}

	return released, nil
}

// RegisterLocator reserves a group code. The primary key on
// (tenant_id, locator) turns a collision into ErrLocatorTaken so callers can
// regenerate instead of silently merging two carts.
func (r *LeaseRepo) RegisterLocator(ctx context.Context, tenantID, locator string, functionID int64, holder string) error {
	const op = "postgres.LeaseRepo.RegisterLocator"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO seat_locators (tenant_id, locator, function_id, holder)
		 VALUES ($1, $2, $3, $4)`,
		tenantID, locator, functionID, holder,
	)
	if err != nil {
		if errors.Is(translateDBErr(err), repository.ErrConflict) {
			return fmt.Errorf("%s:%w", op, repository.ErrLocatorTaken)
		}
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *LeaseRepo) ListByFunction(ctx context.Context, tenantID string, functionID int64, holder string) ([]domain.Lease, error) {
	const op = "postgres.LeaseRepo.ListByFunction"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+leaseCols+`
		   FROM seat_locks
		  WHERE tenant_id = $1 AND function_id = $2
		    AND expires_at > now()
		    AND ($3 = '' OR holder = $3)`,
		tenantID, functionID, holder,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	leases, err := collectLeases(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return leases, nil
}

func (r *LeaseRepo) ListByHolder(
	ctx context.Context,
	tenantID string,
	functionID int64,
	holder string,
	grace time.Duration,
) ([]domain.Lease, error) {
	const op = "postgres.LeaseRepo.ListByHolder"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+leaseCols+`
		   FROM seat_locks
		  WHERE tenant_id = $1 AND function_id = $2 AND holder = $3
		    AND expires_at > now() - make_interval(secs => $4)`,
		tenantID, functionID, holder, grace.Seconds(),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	leases, err := collectLeases(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return leases, nil
}

func (r *LeaseRepo) ListByLocator(ctx context.Context, tenantID, locator string) ([]domain.Lease, error) {
	const op = "postgres.LeaseRepo.ListByLocator"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+leaseCols+`
		   FROM seat_locks
		  WHERE tenant_id = $1 AND locator = $2`,
		tenantID, locator,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	leases, err := collectLeases(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return leases, nil
}

// PromoteLocator is all-or-nothing: the group's rows are locked, every
// expected seat must still be present and unexpired, then a sale row is
// written and the leases removed in the same transaction. Any lost seat
// aborts the whole promotion.
func (r *LeaseRepo) PromoteLocator(
	ctx context.Context,
	tenantID, locator string,
	expectedSeats []string,
) (*domain.Sale, []string, error) {
	const op = "postgres.LeaseRepo.PromoteLocator"

	if r.db != nil {
		sale, lost, err := r.promoteLocatorCore(ctx, r.db, tenantID, locator, expectedSeats)
		if err != nil && !errors.Is(err, repository.ErrSeatsLost) && !errors.Is(err, repository.ErrEmptyGroup) {
			return nil, lost, wrapDBErr(op, err)
		}
		return sale, lost, err
	}

	var (
		sale *domain.Sale
		lost []string
	)

	err := NewStore(r.pool).RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		sale, lost, err = r.promoteLocatorCore(ctx, tx, tenantID, locator, expectedSeats)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrSeatsLost) || errors.Is(err, repository.ErrEmptyGroup) {
			return nil, lost, err
		}
		return nil, lost, wrapDBErr(op, err)
	}

	return sale, nil, nil
}

func (r *LeaseRepo) promoteLocatorCore(
	ctx context.Context,
	db DB,
	tenantID, locator string,
	expectedSeats []string,
) (*domain.Sale, []string, error) {
	const op = "postgres.LeaseRepo.promoteLocatorCore"

	rows, err := db.Query(ctx,
		`SELECT seat_id, function_id, expires_at <= now() AS expired
		   FROM seat_locks
		  WHERE tenant_id = $1 AND locator = $2
		  FOR UPDATE`,
		tenantID, locator,
	)
	if err != nil {
		return nil, nil, err
	}

	type member struct {
		functionID int64
		expired    bool
	}

	group := make(map[string]member)
	var functionID int64
	for rows.Next() {
		var seatID string
		var m member
		if err := rows.Scan(&seatID, &m.functionID, &m.expired); err != nil {
			rows.Close()
			return nil, nil, err
		}
		group[seatID] = m
		functionID = m.functionID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
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
		m, ok := group[sid]
		if !ok || m.expired {
			lost = append(lost, sid)
		}
	}
	if len(lost) > 0 {
		return nil, lost, fmt.Errorf("%s:%w", op, repository.ErrSeatsLost)
	}

	sale := &domain.Sale{
		ID:         uuid.New(),
		TenantID:   tenantID,
		FunctionID: functionID,
		Locator:    locator,
		SeatIDs:    seats,
	}

	if err := db.QueryRow(ctx,
		`INSERT INTO seat_sales (id, tenant_id, function_id, locator, seat_ids)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		sale.ID, sale.TenantID, sale.FunctionID, sale.Locator, sale.SeatIDs,
	).Scan(&sale.CreatedAt); err != nil {
		return nil, nil, err
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM seat_locks WHERE tenant_id = $1 AND locator = $2`,
		tenantID, locator,
	); err != nil {
		return nil, nil, err
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM seat_locators WHERE tenant_id = $1 AND locator = $2`,
		tenantID, locator,
	); err != nil {
		return nil, nil, err
	}

	return sale, nil, nil
}

// SweepExpired evicts leases whose expiry passed more than grace ago. The
// predicate is evaluated at delete time, so a row renewed between a scan and
// this call simply stops matching; no lease can be lost to a stale snapshot.
func (r *LeaseRepo) SweepExpired(ctx context.Context, tenantID string, grace time.Duration) ([]domain.Lease, error) {
	const op = "postgres.LeaseRepo.SweepExpired"

	db := r.handle()

	rows, err := db.Query(ctx,
		`DELETE FROM seat_locks
		  WHERE tenant_id = $1
		    AND expires_at <= now() - make_interval(secs => $2)
		 RETURNING `+leaseCols,
		tenantID, grace.Seconds(),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	evicted, err := collectLeases(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	// Locator registry rows with no remaining locks are garbage after a day.
	if _, err := db.Exec(ctx,
		`DELETE FROM seat_locators l
		  WHERE l.tenant_id = $1
		    AND l.created_at < now() - interval '1 day'
		    AND NOT EXISTS (
		        SELECT 1 FROM seat_locks k
		         WHERE k.tenant_id = l.tenant_id AND k.locator = l.locator)`,
		tenantID,
	); err != nil {
		return evicted, wrapDBErr(op, err)
	}

	return evicted, nil
}

func (r *LeaseRepo) ActiveTenants(ctx context.Context) ([]string, error) {
	const op = "postgres.LeaseRepo.ActiveTenants"

	db := r.handle()

	rows, err := db.Query(ctx, `SELECT DISTINCT tenant_id FROM seat_locks`)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, wrapDBErr(op, err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return tenants, nil
}

func scanLease(row pgx.Row) (*domain.Lease, error) {
	var l domain.Lease
	var lockType, status string

	if err := row.Scan(
		&l.TenantID, &l.FunctionID, &l.SeatID, &l.Holder, &lockType,
		&l.TableID, &l.ZoneID, &l.Locator, &status, &l.LockedAt, &l.ExpiresAt,
	); err != nil {
		return nil, err
	}

	l.LockType = domain.LockType(lockType)
	l.Status = domain.LeaseStatus(status)

	return &l, nil
}

func collectLeases(rows pgx.Rows) ([]domain.Lease, error) {
	defer rows.Close()

	var leases []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return leases, nil
}
