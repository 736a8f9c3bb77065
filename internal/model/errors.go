package model

import "errors"

var (
	ErrInvalidMethod      = errors.New("invalid payment method")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyConfirmed   = errors.New("deposit already confirmed")
	ErrUnauthorized       = errors.New("only cashiers can do this")
	ErrEmptyQueue         = errors.New("queue is empty")

	// ErrConflict means a record changed between read and write. The engine
	// retries it; callers only see it once retries are exhausted.
	ErrConflict = errors.New("concurrent update conflict")
)
