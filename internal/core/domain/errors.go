package domain

import "errors"

var (
	// Request errors
	ErrValidation            = errors.New("validation error")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrDuplicateRequest      = errors.New("duplicate request")

	// Inventory errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrCapacityExceeded = errors.New("inventory would exceed capacity")

	// Cancellation errors
	ErrNotFound     = errors.New("booking not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid booking state")

	// Infrastructure errors
	ErrStorageTimeout     = errors.New("storage timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrLedgerWrite is internal: the coordinator reports it as ErrStorageUnavailable.
	ErrLedgerWrite = errors.New("ledger write failed")
)
