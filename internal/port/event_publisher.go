package port

import (
	"context"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers a committed booking event; failures never undo the booking
	Publish(ctx context.Context, event domain.BookingEvent) error
}
