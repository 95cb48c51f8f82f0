package domain

// BookingEvent is published after a ledger state change has been committed.
type BookingEvent struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	BookingID  string        `json:"booking_id"`
	ResourceID string        `json:"resource_id"`
	Status     BookingStatus `json:"status"`
	Total      int64         `json:"total"`
	OccurredAt int64         `json:"occurred_at"`
}

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)
