package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/port"
)

const (
	defaultStorageTimeout      = 2 * time.Second
	defaultCompensationTimeout = 5 * time.Second
)

// Dependencies wires the services to their ports. Events and Logger are optional.
type Dependencies struct {
	Inventory      port.InventoryStore
	AddOns         port.AddOnCatalog
	Ledger         port.BookingLedger
	Keys           port.IdempotencyStore
	Events         EventSink
	Logger         logrus.FieldLogger
	StorageTimeout time.Duration
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.StorageTimeout <= 0 {
		d.StorageTimeout = defaultStorageTimeout
	}
	if d.Events == nil {
		d.Events = discardEvents{}
	}
	return d
}

// EventSink accepts booking events for asynchronous delivery.
type EventSink interface {
	Enqueue(evt domain.BookingEvent) bool
}

type discardEvents struct{}

func (discardEvents) Enqueue(domain.BookingEvent) bool { return true }

// call runs fn under the storage timeout and maps infrastructure failures
// onto the storage error taxonomy.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(ctx)
	return v, classify(err)
}

func exec(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := call(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// detached returns a context that survives the caller's cancellation, used for
// compensation which must run even when the request has been abandoned.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), defaultCompensationTimeout)
}

var passthrough = []error{
	domain.ErrValidation,
	domain.ErrResourceNotFound,
	domain.ErrCapacityExceeded,
	domain.ErrNotFound,
	domain.ErrInvalidState,
	domain.ErrDuplicateRequest,
	domain.ErrLedgerWrite,
	domain.ErrStorageTimeout,
	domain.ErrStorageUnavailable,
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrStorageTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}

type heldUnits struct {
	category string
	quantity int
}

func newEvent(eventType string, rec *domain.BookingRecord, at time.Time) domain.BookingEvent {
	return domain.BookingEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		BookingID:  rec.ID,
		ResourceID: rec.ResourceID,
		Status:     rec.Status,
		Total:      rec.Price.Total,
		OccurredAt: at.UnixMilli(),
	}
}
