package fleet

import "errors"

var (
	ErrBusNotFound = errors.New("bus not found")
	ErrBadLayout   = errors.New("invalid seat layout")
)
