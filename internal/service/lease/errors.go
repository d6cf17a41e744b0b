package lease

import (
	"errors"
	"fmt"
)

var (
	ErrSeatConflict  = errors.New("seat already locked by another holder")
	ErrLeaseNotFound = errors.New("lease not found")
	ErrLocatorEmpty  = errors.New("locator group is empty")
	ErrRateLimited   = errors.New("rate limited")
)

// PartialPromotionError reports a promotion that found part of the group
// expired or reassigned. Nothing was sold; the caller decides whether to
// drop the lost seats or abandon checkout.
type PartialPromotionError struct {
	Locator   string
	LostSeats []string
}

func (e *PartialPromotionError) Error() string {
	return fmt.Sprintf("promotion of locator %s failed, seats lost: %v", e.Locator, e.LostSeats)
}
