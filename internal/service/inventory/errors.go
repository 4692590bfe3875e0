package inventory

import "errors"

var (
	ErrSeatsUnavailable = errors.New("some seats are unavailable")
	ErrBusNotFound      = errors.New("bus not found")
)
