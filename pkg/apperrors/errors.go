package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrUnsupportedDBType      = errors.New("unsupported database type")
	ErrInvalidExpression      = errors.New("invalid rule expression")
	ErrNotConnected           = errors.New("not connected")
	ErrCredentialsKeyMismatch = errors.New("instance credentials were encrypted with a different key")
	ErrSyncInProgress         = errors.New("sync already in progress for instance")
)
