package repository

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSeatsUnavailable = errors.New("some seats unavailable")
	ErrInvalidStatus    = errors.New("invalid status transition")
	ErrAlreadyProcessed = errors.New("already processed")
)
