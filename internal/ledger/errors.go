package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for non-positive payments or payments above the allowed maximum.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrLimitExceeded is returned when a third additional service is added.
	ErrLimitExceeded = errors.New("additional service limit exceeded")
	// ErrAlreadyFined is returned when a booking already carries a fine.
	ErrAlreadyFined = errors.New("booking already fined")
	// ErrInvalidSlot is returned when a reschedule target is unchanged or in the past.
	ErrInvalidSlot = errors.New("invalid slot")
	// ErrUnauthorized is returned when the booking status does not permit the operation.
	ErrUnauthorized = errors.New("operation not allowed in current booking status")
	// ErrInvalidInput covers malformed records and blank required fields.
	ErrInvalidInput = errors.New("invalid input")
)
