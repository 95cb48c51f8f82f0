package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/core/pricing"
	"github.com/rl1809/travel-booking/internal/metrics"
	"github.com/rl1809/travel-booking/internal/tracing"
)

// ReservationService turns a booking request into a committed ledger record:
// inventory is decremented first, then the record is appended, and any
// decrement that cannot be followed through is compensated.
type ReservationService struct {
	deps Dependencies
	calc *pricing.Calculator
	now  func() time.Time
}

func NewReservationService(deps Dependencies, calc *pricing.Calculator) *ReservationService {
	return &ReservationService{
		deps: deps.withDefaults(),
		calc: calc,
		now:  time.Now,
	}
}

func (s *ReservationService) Reserve(ctx context.Context, req domain.BookingRequest) (record *domain.BookingRecord, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "ReservationService.Reserve")
	defer func() {
		tracing.RecordError(span, err)
		span.End()
		metrics.ReservationsTotal.WithLabelValues(resourceLabel(req.ResourceType), metrics.Outcome(err)).Inc()
	}()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := s.deps.Logger.WithFields(logrus.Fields{
		"resource_id":  req.ResourceID,
		"requester_id": req.RequesterID,
	})

	if req.RequestID != "" {
		key := "reserve:" + req.RequestID
		acquired, keyErr := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (bool, error) {
			return s.deps.Keys.Acquire(ctx, key)
		})
		if keyErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", keyErr)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, req.RequestID)
		}
		defer func() {
			if err != nil {
				s.releaseKey(ctx, key, log)
			}
		}()
	}

	price, err := s.quote(ctx, &req)
	if err != nil {
		return nil, err
	}

	// the booking id doubles as the hold id of this attempt
	id := uuid.NewString()
	held, err := s.hold(ctx, id, &req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := domain.BookingStatusConfirmed
	if req.PayLater {
		status = domain.BookingStatusPending
	}
	rec := domain.BookingRecord{
		ID:           id,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		RequesterID:  req.RequesterID,
		Quantities:   copyQuantities(req.Quantities),
		AddOns:       req.AddOns,
		Contact:      req.Contact,
		Stay:         req.Stay,
		Price:        price,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	stored, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (string, error) {
		return s.deps.Ledger.Append(ctx, rec)
	})
	if err != nil {
		log.WithError(err).WithField("booking_id", rec.ID).Error("failed to append booking, releasing inventory")
		s.voidIfWritten(ctx, rec.ID, log)
		s.release(ctx, req.ResourceID, id, held, log)
		if errors.Is(err, domain.ErrStorageTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	rec.ID = stored

	s.deps.Events.Enqueue(newEvent(domain.EventBookingCreated, &rec, now))
	log.WithFields(logrus.Fields{
		"booking_id": rec.ID,
		"status":     rec.Status,
		"total":      rec.Price.Total,
	}).Info("booking reserved")

	return &rec, nil
}

// quote resolves unit and add-on prices from the stores and prices the request
// before any inventory is touched.
func (s *ReservationService) quote(ctx context.Context, req *domain.BookingRequest) (domain.PriceBreakdown, error) {
	in := pricing.Input{}
	if req.ResourceType == domain.ResourceHotel && req.Stay != nil {
		in.Nights = req.Stay.Nights()
	}

	for _, category := range req.Categories() {
		unit, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (*domain.InventoryUnit, error) {
			return s.deps.Inventory.GetUnit(ctx, req.ResourceID, category)
		})
		if errors.Is(err, domain.ErrResourceNotFound) {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: unknown category %q for %s", domain.ErrValidation, category, req.ResourceID)
		}
		if err != nil {
			return domain.PriceBreakdown{}, err
		}
		if unit.ResourceType != req.ResourceType {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: %s is a %s, not a %s", domain.ErrValidation, req.ResourceID, unit.ResourceType, req.ResourceType)
		}
		in.Lines = append(in.Lines, pricing.Line{
			Category:      category,
			UnitPrice:     unit.UnitPrice,
			DiscountPrice: unit.DiscountPrice,
			Quantity:      req.Quantities[category],
		})
	}

	for _, sel := range req.AddOns {
		addOn, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (*domain.AddOn, error) {
			return s.deps.AddOns.GetAddOn(ctx, req.ResourceID, sel.Code)
		})
		if errors.Is(err, domain.ErrResourceNotFound) {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: unknown add-on %q", domain.ErrValidation, sel.Code)
		}
		if err != nil {
			return domain.PriceBreakdown{}, err
		}
		in.AddOns = append(in.AddOns, pricing.AddOnLine{Code: sel.Code, Price: addOn.Price, Quantity: sel.Quantity})
	}

	return s.calc.Calculate(in)
}

// hold decrements every requested category in sorted order under holdID. If
// one category cannot be held, the ones already taken are given back in
// reverse order. A decrement that failed with an error may still have been
// applied, so it is released through its hold as well.
func (s *ReservationService) hold(ctx context.Context, holdID string, req *domain.BookingRequest) ([]heldUnits, error) {
	held := make([]heldUnits, 0, len(req.Quantities))
	log := s.deps.Logger.WithFields(logrus.Fields{"resource_id": req.ResourceID, "hold_id": holdID})

	for _, category := range req.Categories() {
		qty := req.Quantities[category]
		ok, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (bool, error) {
			return s.deps.Inventory.TryDecrement(ctx, holdID, req.ResourceID, category, qty)
		})
		if err != nil {
			if errors.Is(err, domain.ErrStorageTimeout) {
				log.WithField("category", category).Warn("decrement timed out, releasing its hold")
			}
			if !errors.Is(err, domain.ErrResourceNotFound) {
				held = append(held, heldUnits{category: category, quantity: qty})
			}
			s.release(ctx, req.ResourceID, holdID, held, log)
			return nil, fmt.Errorf("stock decrement failed: %w", err)
		}
		if !ok {
			s.release(ctx, req.ResourceID, holdID, held, log)
			return nil, fmt.Errorf("%w: %s/%s needs %d", domain.ErrInsufficientInventory, req.ResourceID, category, qty)
		}
		held = append(held, heldUnits{category: category, quantity: qty})
	}
	return held, nil
}

// release gives back held units, newest first. Each hold is released at most
// once, so a hold whose decrement never landed only gets voided.
func (s *ReservationService) release(ctx context.Context, resourceID, holdID string, held []heldUnits, log logrus.FieldLogger) {
	if len(held) == 0 {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()

	for i := len(held) - 1; i >= 0; i-- {
		h := held[i]
		entry := log.WithFields(logrus.Fields{"category": h.category, "quantity": h.quantity})
		released, err := s.deps.Inventory.ReleaseHold(ctx, holdID, resourceID, h.category)
		if err != nil {
			metrics.CompensationsTotal.WithLabelValues("reserve", "failed").Inc()
			entry.WithError(err).Error("CRITICAL: rollback failed, inventory must be reconciled")
			continue
		}
		metrics.CompensationsTotal.WithLabelValues("reserve", "ok").Inc()
		if released {
			entry.Info("rolled back inventory")
		} else {
			entry.Info("hold voided, nothing to roll back")
		}
	}
}

// voidIfWritten cancels a record whose append reported failure but landed anyway,
// so a restored inventory never coexists with an active record.
func (s *ReservationService) voidIfWritten(ctx context.Context, id string, log logrus.FieldLogger) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if _, err := s.deps.Ledger.Get(ctx, id); err != nil {
		return
	}
	if err := s.deps.Ledger.UpdateStatus(ctx, id, domain.BookingStatusCancelled, "reservation rolled back"); err != nil {
		log.WithError(err).WithField("booking_id", id).Error("CRITICAL: could not void partially written booking")
	}
}

func (s *ReservationService) releaseKey(ctx context.Context, key string, log logrus.FieldLogger) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.deps.Keys.Release(ctx, key); err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to release idempotency key")
	}
}

// Confirm moves a pay-later booking from pending to confirmed.
func (s *ReservationService) Confirm(ctx context.Context, id string) (*domain.BookingRecord, error) {
	err := exec(ctx, s.deps.StorageTimeout, func(ctx context.Context) error {
		return s.deps.Ledger.UpdateStatus(ctx, id, domain.BookingStatusConfirmed, "")
	})
	if err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.deps.Events.Enqueue(newEvent(domain.EventBookingConfirmed, rec, s.now()))
	s.deps.Logger.WithField("booking_id", id).Info("booking confirmed")
	return rec, nil
}

func (s *ReservationService) Get(ctx context.Context, id string) (*domain.BookingRecord, error) {
	return call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (*domain.BookingRecord, error) {
		return s.deps.Ledger.Get(ctx, id)
	})
}

func (s *ReservationService) ListByRequester(ctx context.Context, requesterID string) ([]domain.BookingRecord, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester_id is required", domain.ErrValidation)
	}
	return call(ctx, s.deps.StorageTimeout, func(ctx context.Context) ([]domain.BookingRecord, error) {
		return s.deps.Ledger.ListByRequester(ctx, requesterID)
	})
}

func (s *ReservationService) Available(ctx context.Context, resourceID, category string) (int, error) {
	return call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (int, error) {
		return s.deps.Inventory.GetAvailable(ctx, resourceID, category)
	})
}

func copyQuantities(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func resourceLabel(t domain.ResourceType) string {
	if t.Valid() {
		return string(t)
	}
	return "unknown"
}
