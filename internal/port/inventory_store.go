package port

import (
	"context"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type InventoryStore interface {
	// GetAvailable returns the current available count of a unit
	GetAvailable(ctx context.Context, resourceID, category string) (int, error)

	// GetUnit returns the unit with its prices, or domain.ErrResourceNotFound
	GetUnit(ctx context.Context, resourceID, category string) (*domain.InventoryUnit, error)

	// TryDecrement atomically decreases available and records the hold under
	// holdID. Returns false if insufficient or if holdID was already used or voided
	TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error)

	// ReleaseHold gives back what TryDecrement took under holdID, at most once.
	// An unknown hold is voided so a decrement still in flight cannot apply later
	ReleaseHold(ctx context.Context, holdID, resourceID, category string) (bool, error)

	// Increment atomically restores available (cancellation and rollback)
	Increment(ctx context.Context, resourceID, category string, quantity int) error

	// UpsertUnit creates or replaces a unit
	UpsertUnit(ctx context.Context, unit domain.InventoryUnit) error

	// SeedUnit creates a missing unit. An existing unit keeps its capacity and
	// available count and only takes the new type and prices
	SeedUnit(ctx context.Context, unit domain.InventoryUnit) error
}

type AddOnCatalog interface {
	// GetAddOn returns the add-on sold with a resource, or domain.ErrResourceNotFound
	GetAddOn(ctx context.Context, resourceID, code string) (*domain.AddOn, error)

	// UpsertAddOn creates or replaces an add-on
	UpsertAddOn(ctx context.Context, addOn domain.AddOn) error
}
