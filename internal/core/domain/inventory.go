package domain

import (
	"fmt"
	"time"
)

type ResourceType string

const (
	ResourceFlight ResourceType = "flight"
	ResourceTour   ResourceType = "tour"
	ResourceHotel  ResourceType = "hotel"
)

func (t ResourceType) Valid() bool {
	switch t {
	case ResourceFlight, ResourceTour, ResourceHotel:
		return true
	}
	return false
}

// InventoryUnit is a countable pool of one bookable category of a resource,
// e.g. the business-class seats of a flight or the deluxe rooms of a hotel.
type InventoryUnit struct {
	ResourceType  ResourceType `json:"resource_type"`
	ResourceID    string       `json:"resource_id"`
	Category      string       `json:"category"`
	Capacity      int          `json:"capacity"`
	Available     int          `json:"available"`
	UnitPrice     int64        `json:"unit_price"`
	DiscountPrice int64        `json:"discount_price,omitempty"` // 0 when no discount
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (u InventoryUnit) Validate() error {
	if !u.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrValidation, u.ResourceType)
	}
	if u.ResourceID == "" || u.Category == "" {
		return fmt.Errorf("%w: resource id and category are required", ErrValidation)
	}
	if u.Capacity < 0 || u.Available < 0 || u.Available > u.Capacity {
		return fmt.Errorf("%w: available %d out of range [0, %d]", ErrValidation, u.Available, u.Capacity)
	}
	if u.UnitPrice < 0 {
		return fmt.Errorf("%w: negative unit price", ErrValidation)
	}
	if u.DiscountPrice < 0 || (u.DiscountPrice > 0 && u.DiscountPrice >= u.UnitPrice) {
		return fmt.Errorf("%w: discount price %d must be below unit price %d", ErrValidation, u.DiscountPrice, u.UnitPrice)
	}
	return nil
}

// AddOn is an optional service sold with a resource (luggage, breakfast, transfer).
type AddOn struct {
	ResourceID string `json:"resource_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
}
