package handler

import (
	"fmt"
	"time"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

const dateLayout = "2006-01-02"

// CreateBookingRequest is the wire form of a reservation, shared by HTTP and gRPC.
type CreateBookingRequest struct {
	RequestID    string                  `json:"request_id,omitempty"`
	ResourceType string                  `json:"resource_type"`
	ResourceID   string                  `json:"resource_id"`
	RequesterID  string                  `json:"requester_id"`
	Quantities   map[string]int          `json:"quantities,omitempty"`
	Passengers   []domain.Passenger      `json:"passengers,omitempty"`
	AddOns       []domain.AddOnSelection `json:"add_ons,omitempty"`
	Contact      domain.ContactInfo      `json:"contact"`
	CheckIn      string                  `json:"check_in,omitempty"`
	CheckOut     string                  `json:"check_out,omitempty"`
	PayLater     bool                    `json:"pay_later,omitempty"`
}

func (r CreateBookingRequest) toDomain() (domain.BookingRequest, error) {
	req := domain.BookingRequest{
		RequestID:    r.RequestID,
		ResourceType: domain.ResourceType(r.ResourceType),
		ResourceID:   r.ResourceID,
		RequesterID:  r.RequesterID,
		Quantities:   r.Quantities,
		Passengers:   r.Passengers,
		AddOns:       r.AddOns,
		Contact:      r.Contact,
		PayLater:     r.PayLater,
	}
	if r.CheckIn == "" && r.CheckOut == "" {
		return req, nil
	}

	checkIn, err := time.Parse(dateLayout, r.CheckIn)
	if err != nil {
		return req, fmt.Errorf("%w: check_in must be YYYY-MM-DD", domain.ErrValidation)
	}
	checkOut, err := time.Parse(dateLayout, r.CheckOut)
	if err != nil {
		return req, fmt.Errorf("%w: check_out must be YYYY-MM-DD", domain.ErrValidation)
	}
	req.Stay = &domain.DateRange{CheckIn: checkIn, CheckOut: checkOut}
	return req, nil
}

type CancelBookingRequest struct {
	BookingID   string `json:"booking_id,omitempty"`
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason,omitempty"`
}

type GetBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type ListBookingsRequest struct {
	RequesterID string `json:"requester_id"`
}

type ListBookingsResponse struct {
	Bookings []domain.BookingRecord `json:"bookings"`
}

type AvailabilityResponse struct {
	ResourceID string `json:"resource_id"`
	Category   string `json:"category"`
	Available  int    `json:"available"`
}
