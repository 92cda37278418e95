package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrNoCapacity           = errors.New("no terminal capacity")
	ErrTerminalDown         = errors.New("terminal down")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrTerminalRejected     = errors.New("terminal rejected")
	ErrDeadlineExpired      = errors.New("dispatch deadline expired")
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")
	ErrDispatchInFlight     = errors.New("dispatch already in flight")
	ErrLockHeld             = errors.New("lock already held")
)
