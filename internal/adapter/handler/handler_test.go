package handler

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/travel-booking/internal/adapter/storage"
	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/core/pricing"
	"github.com/rl1809/travel-booking/internal/core/service"
)

type testServices struct {
	store   *storage.MemoryAdapter
	reserve *service.ReservationService
	cancel  *service.CancellationService
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	require.NoError(t, store.UpsertUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight, ResourceID: "VN123", Category: "economy",
		Capacity: 5, Available: 5, UnitPrice: 1_000_000,
	}))
	require.NoError(t, store.UpsertAddOn(ctx, domain.AddOn{ResourceID: "VN123", Code: "luggage", Name: "20kg luggage", Price: 100_000}))

	policy, err := pricing.PolicyFromPercent(8, 5)
	require.NoError(t, err)

	deps := service.Dependencies{
		Inventory: store,
		AddOns:    store,
		Ledger:    store,
		Keys:      store,
		Logger:    quietLogger(),
	}
	return &testServices{
		store:   store,
		reserve: service.NewReservationService(deps, pricing.NewCalculator(policy)),
		cancel:  service.NewCancellationService(deps),
	}
}

func bookingBody(requester string, qty int) CreateBookingRequest {
	return CreateBookingRequest{
		ResourceType: "flight",
		ResourceID:   "VN123",
		RequesterID:  requester,
		Quantities:   map[string]int{"economy": qty},
		Contact:      domain.ContactInfo{Name: "Lan", Email: "lan@example.com"},
	}
}
