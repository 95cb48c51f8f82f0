package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/travel-booking/internal/adapter/storage"
	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/core/pricing"
	"github.com/rl1809/travel-booking/internal/port"
)

const flightID = "VN123"

type captureSink struct {
	mu     sync.Mutex
	events []domain.BookingEvent
}

func (c *captureSink) Enqueue(evt domain.BookingEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return true
}

func (c *captureSink) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

// failingLedger lets a test break Append or UpdateStatus on an otherwise working ledger.
type failingLedger struct {
	*storage.MemoryAdapter
	appendErr error
	updateErr error
}

func (f *failingLedger) Append(ctx context.Context, rec domain.BookingRecord) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	return f.MemoryAdapter.Append(ctx, rec)
}

func (f *failingLedger) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, reason string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.MemoryAdapter.UpdateStatus(ctx, id, status, reason)
}

// slowInventory never completes a decrement before the context expires.
type slowInventory struct {
	*storage.MemoryAdapter
}

func (s *slowInventory) TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// lateAckInventory applies the decrement but answers only after the context
// has expired, like a store whose reply is lost.
type lateAckInventory struct {
	*storage.MemoryAdapter
}

func (l *lateAckInventory) TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error) {
	if _, err := l.MemoryAdapter.TryDecrement(context.Background(), holdID, resourceID, category, quantity); err != nil {
		return false, err
	}
	<-ctx.Done()
	return false, ctx.Err()
}

type fixture struct {
	store   *storage.MemoryAdapter
	ledger  *failingLedger
	events  *captureSink
	reserve *ReservationService
	cancel  *CancellationService
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	require.NoError(t, store.UpsertUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight, ResourceID: flightID, Category: "economy",
		Capacity: 10, Available: 10, UnitPrice: 1_000_000,
	}))
	require.NoError(t, store.UpsertUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight, ResourceID: flightID, Category: "business",
		Capacity: 2, Available: 2, UnitPrice: 3_000_000,
	}))
	require.NoError(t, store.UpsertUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceHotel, ResourceID: "h-hanoi", Category: "deluxe",
		Capacity: 5, Available: 5, UnitPrice: 500, DiscountPrice: 400,
	}))
	require.NoError(t, store.UpsertAddOn(ctx, domain.AddOn{ResourceID: flightID, Code: "luggage", Name: "20kg luggage", Price: 100_000}))
	require.NoError(t, store.UpsertAddOn(ctx, domain.AddOn{ResourceID: "h-hanoi", Code: "breakfast", Name: "Breakfast", Price: 20}))

	f := &fixture{
		store:  store,
		ledger: &failingLedger{MemoryAdapter: store},
		events: &captureSink{},
	}
	f.build(t, store)
	return f
}

func (f *fixture) build(t *testing.T, inventory port.InventoryStore) {
	t.Helper()
	policy, err := pricing.PolicyFromPercent(8, 5)
	require.NoError(t, err)

	deps := Dependencies{
		Inventory: inventory,
		AddOns:    f.store,
		Ledger:    f.ledger,
		Keys:      f.store,
		Events:    f.events,
		Logger:    quietLogger(),
	}
	f.reserve = NewReservationService(deps, pricing.NewCalculator(policy))
	f.cancel = NewCancellationService(deps)
}

func (f *fixture) available(t *testing.T, category string) int {
	t.Helper()
	n, err := f.store.GetAvailable(context.Background(), flightID, category)
	require.NoError(t, err)
	return n
}

func flightRequest(quantities map[string]int) domain.BookingRequest {
	return domain.BookingRequest{
		ResourceType: domain.ResourceFlight,
		ResourceID:   flightID,
		RequesterID:  "user-1",
		Quantities:   quantities,
		Contact:      domain.ContactInfo{Name: "Lan", Email: "lan@example.com"},
	}
}

// assertConserved checks available + units held by active bookings == capacity.
func assertConserved(t *testing.T, f *fixture, category string, capacity int) {
	t.Helper()
	records, err := f.store.ListByResource(context.Background(), flightID)
	require.NoError(t, err)

	held := 0
	for _, r := range records {
		if r.Status == domain.BookingStatusCancelled {
			continue
		}
		held += r.Quantities[category]
	}
	require.Equal(t, capacity, held+f.available(t, category))
}

var errDatabaseDown = errors.New("database is down")
