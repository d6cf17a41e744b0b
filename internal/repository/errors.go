package repository

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrSeatLocked   = errors.New("seat locked by another holder")
	ErrLocatorTaken = errors.New("locator already registered")
	ErrEmptyGroup   = errors.New("no leases in locator group")
	ErrSeatsLost    = errors.New("some seats in group no longer held")
)
