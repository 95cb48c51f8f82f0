package port

import (
	"context"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type BookingLedger interface {
	// Append stores a new record and returns its id
	Append(ctx context.Context, record domain.BookingRecord) (string, error)

	// Get returns a record or domain.ErrNotFound
	Get(ctx context.Context, id string) (*domain.BookingRecord, error)

	// UpdateStatus moves a record along the status state machine, failing with
	// domain.ErrInvalidState when the current status does not allow it
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, reason string) error

	// ListByRequester returns the requester's records, newest first
	ListByRequester(ctx context.Context, requesterID string) ([]domain.BookingRecord, error)

	// ListByResource returns every record held against a resource
	ListByResource(ctx context.Context, resourceID string) ([]domain.BookingRecord, error)
}
