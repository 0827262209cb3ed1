package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPhaseViolation    = errors.New("operation not allowed in current phase")
	ErrValidation        = errors.New("invalid input")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrAlreadyDone       = errors.New("already done")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserLocked        = errors.New("user is locked")
	ErrPaused            = errors.New("governance is paused")
	ErrLockHeld          = errors.New("lock already held")
)
