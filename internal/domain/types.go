package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockType discriminates what a lease covers: a single seat or a whole table.
type LockType string

const (
	LockSeat  LockType = "seat"
	LockTable LockType = "table"
)

// LeaseStatus is the closed set of states a stored lease can be in. Absence
// of a row means the seat is available.
type LeaseStatus string

const (
	StatusLocked   LeaseStatus = "locked"
	StatusReserved LeaseStatus = "reserved"
)

// Lease is one claimed inventory unit: at most one non-expired row exists per
// (tenant, function, seat). A row whose ExpiresAt has passed is treated as
// absent even before the sweeper physically removes it.
type Lease struct {
	SeatID     string
	FunctionID int64
	TenantID   string
	Holder     string
	LockType   LockType
	TableID    string
	ZoneID     string
	Locator    string
	Status     LeaseStatus
	LockedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease is logically released at the given time.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Sale is the minimal record left behind when a locator group is promoted.
// Payment and pricing live in external systems keyed by the locator.
type Sale struct {
	ID         uuid.UUID
	TenantID   string
	FunctionID int64
	Locator    string
	SeatIDs    []string
	CreatedAt  time.Time
}

// LockPolicy holds the per-tenant tunables governing lease lifetime and
// cleanup. Zero values mean "not customized"; the policy service applies
// defaults and administrative clamps before anything reads them.
type LockPolicy struct {
	TenantID                 string `json:"tenant_id"`
	LeaseDurationMinutes     int    `json:"lease_duration_minutes"`
	WarningThresholdMinutes  int    `json:"warning_threshold_minutes"`
	SweepIntervalMinutes     int    `json:"sweep_interval_minutes"`
	RestorationWindowMinutes int    `json:"restoration_window_minutes"`
	AutoCleanupEnabled       bool   `json:"auto_cleanup_enabled"`
	NotificationsEnabled     bool   `json:"notifications_enabled"`
	RestorationEnabled       bool   `json:"restoration_enabled"`
}

// LeaseDuration returns the lease lifetime as a duration.
func (p LockPolicy) LeaseDuration() time.Duration {
	return time.Duration(p.LeaseDurationMinutes) * time.Minute
}

// RestorationWindow returns the post-expiry grace during which the original
// holder may reclaim a seat. Zero when restoration is disabled.
func (p LockPolicy) RestorationWindow() time.Duration {
	if !p.RestorationEnabled {
		return 0
	}
	return time.Duration(p.RestorationWindowMinutes) * time.Minute
}

// SweepInterval returns how often this tenant's expired leases are evicted.
func (p LockPolicy) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalMinutes) * time.Minute
}

// FunctionLockStats is the diagnostic summary for one function's lock state.
type FunctionLockStats struct {
	FunctionID  int64          `json:"function_id"`
	TotalActive int            `json:"total_active"`
	ByHolder    map[string]int `json:"by_holder"`
	ByZone      map[string]int `json:"by_zone"`
}
