package payment

import "errors"

var (
	ErrInvalidBooking     = errors.New("booking missing or not pending")
	ErrUnknownPayment     = errors.New("unknown payment")
	ErrUnsupportedGateway = errors.New("unsupported gateway")
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
)
