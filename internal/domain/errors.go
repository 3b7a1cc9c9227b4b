package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotImplemented = errors.New("not implemented")

	ErrNoChannel      = errors.New("channel name is required")
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrUnknownOption  = errors.New("unknown option")
	ErrInvalidValue   = errors.New("invalid option value")
)
