package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type unitKey struct {
	resourceID string
	category   string
}

type holdKey struct {
	holdID string
	unitKey
}

type hold struct {
	quantity int
	released bool
	at       time.Time
}

// MemoryAdapter keeps inventory, add-ons, the ledger and idempotency keys in
// process memory. Every operation holds the adapter mutex, which gives the same
// check-and-decrement atomicity the Redis script and the SQL conditional update do.
type MemoryAdapter struct {
	mu       sync.RWMutex
	units    map[unitKey]*domain.InventoryUnit
	holds    map[holdKey]*hold
	addOns   map[unitKey]*domain.AddOn
	bookings map[string]*domain.BookingRecord
	keys     map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		units:    make(map[unitKey]*domain.InventoryUnit),
		holds:    make(map[holdKey]*hold),
		addOns:   make(map[unitKey]*domain.AddOn),
		bookings: make(map[string]*domain.BookingRecord),
		keys:     make(map[string]time.Time),
		ttl:      idempotencyKeyTTL,
		now:      time.Now,
	}
}

// WithIdempotencyTTL overrides how long keys and holds are remembered.
func (m *MemoryAdapter) WithIdempotencyTTL(ttl time.Duration) *MemoryAdapter {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

func (m *MemoryAdapter) GetAvailable(ctx context.Context, resourceID, category string) (int, error) {
	unit, err := m.GetUnit(ctx, resourceID, category)
	if err != nil {
		return 0, err
	}
	return unit.Available, nil
}

func (m *MemoryAdapter) GetUnit(ctx context.Context, resourceID, category string) (*domain.InventoryUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	unit, ok := m.units[unitKey{resourceID, category}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	cp := *unit
	return &cp, nil
}

func (m *MemoryAdapter) TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unitKey{resourceID, category}
	unit, ok := m.units[key]
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	hk := holdKey{holdID, key}
	if _, used := m.holds[hk]; used {
		return false, nil
	}
	if unit.Available < quantity {
		return false, nil
	}
	unit.Available -= quantity
	unit.UpdatedAt = m.now()
	m.holds[hk] = &hold{quantity: quantity, at: m.now()}
	return true, nil
}

func (m *MemoryAdapter) ReleaseHold(ctx context.Context, holdID, resourceID, category string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unitKey{resourceID, category}
	hk := holdKey{holdID, key}
	h, ok := m.holds[hk]
	if !ok {
		m.holds[hk] = &hold{released: true, at: m.now()}
		return false, nil
	}
	if h.released {
		return false, nil
	}
	unit, ok := m.units[key]
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	unit.Available += h.quantity
	unit.UpdatedAt = m.now()
	h.released = true
	return true, nil
}

func (m *MemoryAdapter) Increment(ctx context.Context, resourceID, category string, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.units[unitKey{resourceID, category}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	if unit.Available+quantity > unit.Capacity {
		return fmt.Errorf("%w: %s/%s", domain.ErrCapacityExceeded, resourceID, category)
	}
	unit.Available += quantity
	unit.UpdatedAt = m.now()
	return nil
}

func (m *MemoryAdapter) UpsertUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	unit.UpdatedAt = m.now()
	m.units[unitKey{unit.ResourceID, unit.Category}] = &unit
	return nil
}

func (m *MemoryAdapter) SeedUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unitKey{unit.ResourceID, unit.Category}
	existing, ok := m.units[key]
	if !ok {
		unit.UpdatedAt = m.now()
		m.units[key] = &unit
		return nil
	}
	existing.ResourceType = unit.ResourceType
	existing.UnitPrice = unit.UnitPrice
	existing.DiscountPrice = unit.DiscountPrice
	existing.UpdatedAt = m.now()
	return nil
}

func (m *MemoryAdapter) GetAddOn(ctx context.Context, resourceID, code string) (*domain.AddOn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.addOns[unitKey{resourceID, code}]
	if !ok {
		return nil, fmt.Errorf("%w: add-on %s/%s", domain.ErrResourceNotFound, resourceID, code)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryAdapter) UpsertAddOn(ctx context.Context, addOn domain.AddOn) error {
	if addOn.ResourceID == "" || addOn.Code == "" || addOn.Price < 0 {
		return fmt.Errorf("%w: invalid add-on", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addOns[unitKey{addOn.ResourceID, addOn.Code}] = &addOn
	return nil
}

func (m *MemoryAdapter) Append(ctx context.Context, record domain.BookingRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, exists := m.bookings[record.ID]; exists {
		return "", fmt.Errorf("%w: duplicate id %s", domain.ErrLedgerWrite, record.ID)
	}
	stored := cloneRecord(record)
	m.bookings[record.ID] = &stored
	return record.ID, nil
}

func (m *MemoryAdapter) Get(ctx context.Context, id string) (*domain.BookingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	cp := cloneRecord(*rec)
	return &cp, nil
}

func (m *MemoryAdapter) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if !rec.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, rec.Status, status)
	}
	rec.Status = status
	if reason != "" {
		rec.CancelReason = reason
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) ListByRequester(ctx context.Context, requesterID string) ([]domain.BookingRecord, error) {
	return m.list(ctx, func(r *domain.BookingRecord) bool { return r.RequesterID == requesterID })
}

func (m *MemoryAdapter) ListByResource(ctx context.Context, resourceID string) ([]domain.BookingRecord, error) {
	return m.list(ctx, func(r *domain.BookingRecord) bool { return r.ResourceID == resourceID })
}

func (m *MemoryAdapter) list(ctx context.Context, match func(*domain.BookingRecord) bool) ([]domain.BookingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.BookingRecord, 0)
	for _, rec := range m.bookings {
		if match(rec) {
			out = append(out, cloneRecord(*rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryAdapter) Acquire(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if at, exists := m.keys[key]; exists && now.Sub(at) < m.ttl {
		return false, nil
	}
	m.keys[key] = now
	return true, nil
}

func (m *MemoryAdapter) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// PurgeIdempotencyKeys drops keys and holds older than ttl.
func (m *MemoryAdapter) PurgeIdempotencyKeys(ctx context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	var purged int64
	for key, at := range m.keys {
		if at.Before(cutoff) {
			delete(m.keys, key)
			purged++
		}
	}
	for key, h := range m.holds {
		if h.at.Before(cutoff) {
			delete(m.holds, key)
			purged++
		}
	}
	return purged, nil
}

func cloneRecord(r domain.BookingRecord) domain.BookingRecord {
	q := make(map[string]int, len(r.Quantities))
	for k, v := range r.Quantities {
		q[k] = v
	}
	r.Quantities = q
	r.AddOns = append([]domain.AddOnSelection(nil), r.AddOns...)
	r.Price.Lines = append([]domain.LineCharge(nil), r.Price.Lines...)
	r.Price.AddOns = append([]domain.AddOnCharge(nil), r.Price.AddOns...)
	if r.Stay != nil {
		stay := *r.Stay
		r.Stay = &stay
	}
	return r
}
