package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConnectivity  = errors.New("platform unreachable")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConfiguration = errors.New("invalid account configuration")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)
