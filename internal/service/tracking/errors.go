package tracking

import "errors"

var (
	ErrInvalidCoordinates = errors.New("coordinates out of range")
	ErrBusNotFound        = errors.New("bus not found")
)
