package booking

import "errors"

var (
	ErrAccountNotVerified = errors.New("account is not verified")
	ErrBusNotFound        = errors.New("bus not found")
	ErrBusInactive        = errors.New("bus is not active")
	ErrSeatsUnavailable   = errors.New("some seats are unavailable")
	ErrNotFound           = errors.New("booking not found")
	ErrAlreadyCancelled   = errors.New("booking is already cancelled")
	ErrInvalidTransition  = errors.New("invalid booking status transition")
)
