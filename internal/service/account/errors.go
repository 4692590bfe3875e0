package account

import "errors"

var (
	ErrNoCode       = errors.New("no verification code outstanding")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeMismatch = errors.New("verification code does not match")
	ErrUserNotFound = errors.New("user not found")
)
