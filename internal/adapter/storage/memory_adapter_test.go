package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

func seedMemory(t *testing.T, available int) *MemoryAdapter {
	t.Helper()
	m := NewMemoryAdapter()
	require.NoError(t, m.UpsertUnit(context.Background(), domain.InventoryUnit{
		ResourceType: domain.ResourceFlight,
		ResourceID:   "VN123",
		Category:     "economy",
		Capacity:     available,
		Available:    available,
		UnitPrice:    1_000_000,
	}))
	return m
}

func TestMemoryTryDecrement(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 5)

	ok, err := m.TryDecrement(ctx, "h1", "VN123", "economy", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryDecrement(ctx, "h2", "VN123", "economy", 3)
	require.NoError(t, err)
	assert.False(t, ok, "only 2 left")

	avail, err := m.GetAvailable(ctx, "VN123", "economy")
	require.NoError(t, err)
	assert.Equal(t, 2, avail)

	_, err = m.TryDecrement(ctx, "h3", "VN123", "first", 1)
	assert.True(t, errors.Is(err, domain.ErrResourceNotFound))
}

func TestMemoryIncrementRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 4)

	ok, err := m.TryDecrement(ctx, "h1", "VN123", "economy", 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Increment(ctx, "VN123", "economy", 2))
	err = m.Increment(ctx, "VN123", "economy", 1)
	assert.True(t, errors.Is(err, domain.ErrCapacityExceeded))

	avail, _ := m.GetAvailable(ctx, "VN123", "economy")
	assert.Equal(t, 4, avail)
}

func TestMemoryTryDecrement_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 20)

	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := m.TryDecrement(ctx, fmt.Sprintf("h%d", i), "VN123", "economy", 3); ok {
				success.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(6), success.Load())
	avail, _ := m.GetAvailable(ctx, "VN123", "economy")
	assert.Equal(t, 2, avail)
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	rec := domain.BookingRecord{
		ResourceType: domain.ResourceTour,
		ResourceID:   "halong-2d",
		RequesterID:  "u1",
		Quantities:   map[string]int{"adult": 2},
		Status:       domain.BookingStatusPending,
		CreatedAt:    time.Now(),
	}
	id, err := m.Append(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quantities["adult"])

	// returned records are copies
	got.Quantities["adult"] = 99
	again, _ := m.Get(ctx, id)
	assert.Equal(t, 2, again.Quantities["adult"])

	require.NoError(t, m.UpdateStatus(ctx, id, domain.BookingStatusConfirmed, ""))
	require.NoError(t, m.UpdateStatus(ctx, id, domain.BookingStatusCancelled, "changed plans"))
	err = m.UpdateStatus(ctx, id, domain.BookingStatusCancelled, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	final, _ := m.Get(ctx, id)
	assert.Equal(t, domain.BookingStatusCancelled, final.Status)
	assert.Equal(t, "changed plans", final.CancelReason)

	_, err = m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	list, err := m.ListByRequester(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = m.ListByResource(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	ok, err := m.Acquire(ctx, "reserve:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Acquire(ctx, "reserve:abc")
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, "reserve:abc"))
	ok, _ = m.Acquire(ctx, "reserve:abc")
	assert.True(t, ok)
}

func TestMemoryReleaseHold(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 10)

	ok, err := m.TryDecrement(ctx, "b-1", "VN123", "economy", 4)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.TryDecrement(ctx, "b-1", "VN123", "economy", 1)
	require.NoError(t, err)
	assert.False(t, ok, "a hold id is used once")

	released, err := m.ReleaseHold(ctx, "b-1", "VN123", "economy")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = m.ReleaseHold(ctx, "b-1", "VN123", "economy")
	require.NoError(t, err)
	assert.False(t, released, "second release gives nothing back")

	avail, _ := m.GetAvailable(ctx, "VN123", "economy")
	assert.Equal(t, 10, avail)
}

func TestMemoryReleaseHold_VoidsLateDecrement(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 10)

	released, err := m.ReleaseHold(ctx, "b-2", "VN123", "economy")
	require.NoError(t, err)
	assert.False(t, released)

	ok, err := m.TryDecrement(ctx, "b-2", "VN123", "economy", 3)
	require.NoError(t, err)
	assert.False(t, ok, "voided hold cannot be applied")

	avail, _ := m.GetAvailable(ctx, "VN123", "economy")
	assert.Equal(t, 10, avail)
}

func TestMemorySeedUnitKeepsLiveCounts(t *testing.T) {
	ctx := context.Background()
	m := seedMemory(t, 10)

	ok, err := m.TryDecrement(ctx, "b-1", "VN123", "economy", 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.SeedUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight,
		ResourceID:   "VN123",
		Category:     "economy",
		Capacity:     10,
		Available:    10,
		UnitPrice:    1_200_000,
	}))

	unit, err := m.GetUnit(ctx, "VN123", "economy")
	require.NoError(t, err)
	assert.Equal(t, 7, unit.Available)
	assert.Equal(t, int64(1_200_000), unit.UnitPrice)

	require.NoError(t, m.SeedUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight, ResourceID: "VN123", Category: "business",
		Capacity: 4, Available: 4, UnitPrice: 3_000_000,
	}))
	avail, err := m.GetAvailable(ctx, "VN123", "business")
	require.NoError(t, err)
	assert.Equal(t, 4, avail)
}

func TestMemoryIdempotencyExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryAdapter().WithIdempotencyTTL(time.Hour)
	m.now = func() time.Time { return now }

	ok, err := m.Acquire(ctx, "reserve:abc")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(59 * time.Minute)
	ok, _ = m.Acquire(ctx, "reserve:abc")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.Acquire(ctx, "reserve:abc")
	assert.True(t, ok, "key expired")

	_, _ = m.Acquire(ctx, "reserve:old")
	now = now.Add(2 * time.Hour)
	purged, err := m.PurgeIdempotencyKeys(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}
