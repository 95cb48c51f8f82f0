package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/metrics"
	"github.com/rl1809/travel-booking/internal/tracing"
)

// CancellationService cancels bookings and returns their units to inventory
// exactly once, even when the same booking is cancelled concurrently.
type CancellationService struct {
	deps Dependencies
	now  func() time.Time
}

func NewCancellationService(deps Dependencies) *CancellationService {
	return &CancellationService{deps: deps.withDefaults(), now: time.Now}
}

// Cancel checks ownership unless elevated is set, restores inventory for every
// category held by the booking and then marks it cancelled.
func (s *CancellationService) Cancel(ctx context.Context, recordID, requesterID string, elevated bool, reason string) (record *domain.BookingRecord, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "CancellationService.Cancel")
	defer func() {
		tracing.RecordError(span, err)
		span.End()
		metrics.CancellationsTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	}()

	rec, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (*domain.BookingRecord, error) {
		return s.deps.Ledger.Get(ctx, recordID)
	})
	if err != nil {
		return nil, err
	}
	if !elevated && rec.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: booking %s belongs to another requester", domain.ErrForbidden, recordID)
	}
	if !rec.Status.CanTransition(domain.BookingStatusCancelled) {
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrInvalidState, recordID, rec.Status)
	}

	log := s.deps.Logger.WithFields(logrus.Fields{
		"booking_id":  rec.ID,
		"resource_id": rec.ResourceID,
	})

	claim := "cancel:" + rec.ID
	ok, err := call(ctx, s.deps.StorageTimeout, func(ctx context.Context) (bool, error) {
		return s.deps.Keys.Acquire(ctx, claim)
	})
	if err != nil {
		return nil, fmt.Errorf("cancellation claim failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking %s is already being cancelled", domain.ErrInvalidState, recordID)
	}

	restored := make([]heldUnits, 0, len(rec.Quantities))
	for _, category := range rec.Categories() {
		qty := rec.Quantities[category]
		err := exec(ctx, s.deps.StorageTimeout, func(ctx context.Context) error {
			return s.deps.Inventory.Increment(ctx, rec.ResourceID, category, qty)
		})
		if err != nil {
			log.WithError(err).WithField("category", category).Error("failed to restore inventory")
			s.undo(ctx, rec.ResourceID, restored, log)
			s.releaseClaim(ctx, claim, log)
			return nil, fmt.Errorf("restore inventory: %w", err)
		}
		restored = append(restored, heldUnits{category: category, quantity: qty})
	}

	err = exec(ctx, s.deps.StorageTimeout, func(ctx context.Context) error {
		return s.deps.Ledger.UpdateStatus(ctx, rec.ID, domain.BookingStatusCancelled, reason)
	})
	if err != nil {
		log.WithError(err).Error("failed to mark booking cancelled, taking inventory back")
		s.undo(ctx, rec.ResourceID, restored, log)
		s.releaseClaim(ctx, claim, log)
		return nil, err
	}

	rec.Status = domain.BookingStatusCancelled
	if reason != "" {
		rec.CancelReason = reason
	}
	rec.UpdatedAt = s.now().UTC()

	s.deps.Events.Enqueue(newEvent(domain.EventBookingCancelled, rec, rec.UpdatedAt))
	log.WithFields(logrus.Fields{
		"units":    rec.TotalQuantity(),
		"elevated": elevated,
	}).Info("booking cancelled")

	return rec, nil
}

// undo takes back units restored by a cancellation that could not be committed.
func (s *CancellationService) undo(ctx context.Context, resourceID string, restored []heldUnits, log logrus.FieldLogger) {
	if len(restored) == 0 {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()

	holdID := "undo:" + uuid.NewString()
	for i := len(restored) - 1; i >= 0; i-- {
		r := restored[i]
		entry := log.WithFields(logrus.Fields{"category": r.category, "quantity": r.quantity})
		ok, err := s.deps.Inventory.TryDecrement(ctx, holdID, resourceID, r.category, r.quantity)
		if err != nil || !ok {
			metrics.CompensationsTotal.WithLabelValues("cancel", "failed").Inc()
			entry.WithError(err).Error("CRITICAL: could not take back restored inventory")
			continue
		}
		metrics.CompensationsTotal.WithLabelValues("cancel", "ok").Inc()
	}
}

func (s *CancellationService) releaseClaim(ctx context.Context, claim string, log logrus.FieldLogger) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.deps.Keys.Release(ctx, claim); err != nil {
		log.WithError(err).WithField("key", claim).Warn("failed to release cancellation claim")
	}
}
