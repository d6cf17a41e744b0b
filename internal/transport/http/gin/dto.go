package httpgin

import (
	"time"

	"github.com/ticketvia/seatlease/internal/domain"
)

type AcquireLockRequest struct {
	SeatID   string `json:"seat_id" binding:"required"`
	Holder   string `json:"holder" binding:"required"`
	LockType string `json:"lock_type" binding:"omitempty,oneof=seat table"`
	TableID  string `json:"table_id"`
	ZoneID   string `json:"zone_id"`
	Locator  string `json:"locator"`
}

type RenewLockRequest struct {
	SeatID string `json:"seat_id" binding:"required"`
	Holder string `json:"holder" binding:"required"`
}

type ReleaseLockRequest struct {
	SeatID string `json:"seat_id" binding:"required"`
	Holder string `json:"holder" binding:"required"`
}

type ReleaseByLocatorRequest struct {
	Locator string `json:"locator" binding:"required"`
}

type PromoteRequest struct {
	Locator string   `json:"locator" binding:"required"`
	SeatIDs []string `json:"seat_ids"`
}

type RestoreRequest struct {
	Holder string `json:"holder" binding:"required"`
}

// UpdatePolicyRequest is a partial update: omitted fields keep the tenant's
// current values. Without pointers an absent toggle would decode as false
// and silently flip a default-on setting.
type UpdatePolicyRequest struct {
	LeaseDurationMinutes     *int  `json:"lease_duration_minutes"`
	WarningThresholdMinutes  *int  `json:"warning_threshold_minutes"`
	SweepIntervalMinutes     *int  `json:"sweep_interval_minutes"`
	RestorationWindowMinutes *int  `json:"restoration_window_minutes"`
	AutoCleanupEnabled       *bool `json:"auto_cleanup_enabled"`
	NotificationsEnabled     *bool `json:"notifications_enabled"`
	RestorationEnabled       *bool `json:"restoration_enabled"`
}

type LeaseResponse struct {
	SeatID     string    `json:"seat_id"`
	FunctionID int64     `json:"function_id"`
	Holder     string    `json:"holder"`
	LockType   string    `json:"lock_type"`
	TableID    string    `json:"table_id,omitempty"`
	ZoneID     string    `json:"zone_id,omitempty"`
	Locator    string    `json:"locator"`
	Status     string    `json:"status"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type LeaseListResponse struct {
	Leases []LeaseResponse `json:"leases"`
	Total  int             `json:"total"`
}

type ReleasedResponse struct {
	Released int `json:"released"`
}

type PromoteResponse struct {
	SaleID  string   `json:"sale_id"`
	Locator string   `json:"locator"`
	SeatIDs []string `json:"seat_ids"`
}

type CleanupResponse struct {
	Evicted int `json:"evicted"`
}

type ErrorResponse struct {
	Error     string   `json:"error"`
	LostSeats []string `json:"lost_seats,omitempty"`
}

func leaseToResponse(l domain.Lease) LeaseResponse {
	return LeaseResponse{
		SeatID:     l.SeatID,
		FunctionID: l.FunctionID,
		Holder:     l.Holder,
		LockType:   string(l.LockType),
		TableID:    l.TableID,
		ZoneID:     l.ZoneID,
		Locator:    l.Locator,
		Status:     string(l.Status),
		LockedAt:   l.LockedAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

func leasesToResponse(leases []domain.Lease) LeaseListResponse {
	out := LeaseListResponse{Leases: make([]LeaseResponse, 0, len(leases))}
	for _, l := range leases {
		out.Leases = append(out.Leases, leaseToResponse(l))
	}
	out.Total = len(out.Leases)

	return out
}
