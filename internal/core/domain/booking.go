package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
}

// CanTransition reports whether a record may move from s to next.
// Cancelled and completed are terminal.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor lists the states a record can be in when it moves to next.
func SourcesFor(next BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range []BookingStatus{BookingStatusPending, BookingStatusConfirmed} {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Passenger struct {
	Name     string `json:"name"`
	Category string `json:"category"` // seat class
}

type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// Nights counts calendar nights between check-in and check-out.
func (d DateRange) Nights() int {
	in := time.Date(d.CheckIn.Year(), d.CheckIn.Month(), d.CheckIn.Day(), 0, 0, 0, 0, time.UTC)
	out := time.Date(d.CheckOut.Year(), d.CheckOut.Month(), d.CheckOut.Day(), 0, 0, 0, 0, time.UTC)
	return int(out.Sub(in).Hours() / 24)
}

type AddOnSelection struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity,omitempty"`
}

// BookingRequest is the input of one reservation attempt.
type BookingRequest struct {
	RequestID    string           `json:"request_id,omitempty"`
	ResourceType ResourceType     `json:"resource_type"`
	ResourceID   string           `json:"resource_id"`
	RequesterID  string           `json:"requester_id"`
	Quantities   map[string]int   `json:"quantities,omitempty"`
	Passengers   []Passenger      `json:"passengers,omitempty"`
	AddOns       []AddOnSelection `json:"add_ons,omitempty"`
	Contact      ContactInfo      `json:"contact"`
	Stay         *DateRange       `json:"stay,omitempty"`
	PayLater     bool             `json:"pay_later,omitempty"`
}

// Normalize fills Quantities from the passenger manifest for flights that
// only list passengers. Passengers without a seat class are rejected by Validate.
func (r *BookingRequest) Normalize() {
	if len(r.Quantities) > 0 || len(r.Passengers) == 0 {
		return
	}
	r.Quantities = make(map[string]int)
	for _, p := range r.Passengers {
		r.Quantities[strings.TrimSpace(p.Category)]++
	}
}

func (r *BookingRequest) Validate() error {
	if !r.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrValidation, r.ResourceType)
	}
	if r.ResourceID == "" {
		return fmt.Errorf("%w: resource_id is required", ErrValidation)
	}
	if r.RequesterID == "" {
		return fmt.Errorf("%w: requester_id is required", ErrValidation)
	}
	if r.Contact.Name == "" || (r.Contact.Email == "" && r.Contact.Phone == "") {
		return fmt.Errorf("%w: contact name and email or phone are required", ErrValidation)
	}
	if len(r.Quantities) == 0 {
		return fmt.Errorf("%w: at least one category quantity is required", ErrValidation)
	}
	for category, qty := range r.Quantities {
		if category == "" {
			return fmt.Errorf("%w: empty category", ErrValidation)
		}
		if qty <= 0 {
			return fmt.Errorf("%w: quantity for %q must be positive", ErrValidation, category)
		}
	}
	for _, a := range r.AddOns {
		if a.Code == "" || a.Quantity < 0 {
			return fmt.Errorf("%w: invalid add-on selection", ErrValidation)
		}
	}
	if r.ResourceType == ResourceHotel {
		if r.Stay == nil {
			return fmt.Errorf("%w: hotel bookings require a stay", ErrValidation)
		}
		if r.Stay.Nights() <= 0 {
			return fmt.Errorf("%w: check-out must be after check-in", ErrValidation)
		}
	}
	return nil
}

// Categories returns the requested categories in a stable order.
func (r *BookingRequest) Categories() []string {
	return sortedKeys(r.Quantities)
}

// BookingRecord is the ledger entry of a committed reservation.
type BookingRecord struct {
	ID           string           `json:"id"`
	ResourceType ResourceType     `json:"resource_type"`
	ResourceID   string           `json:"resource_id"`
	RequesterID  string           `json:"requester_id"`
	Quantities   map[string]int   `json:"quantities"`
	AddOns       []AddOnSelection `json:"add_ons,omitempty"`
	Contact      ContactInfo      `json:"contact"`
	Stay         *DateRange       `json:"stay,omitempty"`
	Price        PriceBreakdown   `json:"price"`
	Status       BookingStatus    `json:"status"`
	CancelReason string           `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (b *BookingRecord) Categories() []string {
	return sortedKeys(b.Quantities)
}

// TotalQuantity sums the units held by the record across categories.
func (b *BookingRecord) TotalQuantity() int {
	total := 0
	for _, q := range b.Quantities {
		total += q
	}
	return total
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
