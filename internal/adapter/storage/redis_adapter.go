package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

const (
	inventoryKeyPrefix   = "inventory:"
	holdKeyPrefix        = "hold:"
	addOnKeyPrefix       = "addon:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// KEYS[1] unit hash, KEYS[2] hold key. ARGV quantity, updated_at, hold ttl in ms.
// Returns -1 when the unit is unknown, -2 when the hold id was already used,
// 0 when the unit cannot cover the quantity, 1 on success.
var decrementInventoryScript = redis.NewScript(`
local key = KEYS[1]
local holdKey = KEYS[2]
local quantity = tonumber(ARGV[1])

local available = redis.call('HGET', key, 'available')
if not available then
	return -1
end

if redis.call('EXISTS', holdKey) == 1 then
	return -2
end

available = tonumber(available)
if available >= quantity then
	redis.call('HINCRBY', key, 'available', -quantity)
	redis.call('HSET', key, 'updated_at', ARGV[2])
	redis.call('SET', holdKey, ARGV[1], 'PX', ARGV[3])
	return 1
end

return 0
`)

// KEYS[1] unit hash, KEYS[2] hold key. ARGV updated_at, hold ttl in ms.
// Returns 1 when the held quantity was given back, 0 when there was nothing
// to give back, -1 when the unit is unknown.
var releaseHoldScript = redis.NewScript(`
local key = KEYS[1]
local holdKey = KEYS[2]

local held = redis.call('GET', holdKey)
if not held then
	redis.call('SET', holdKey, 'void', 'PX', ARGV[2])
	return 0
end
if held == 'void' then
	return 0
end

if redis.call('EXISTS', key) == 0 then
	return -1
end

redis.call('HINCRBY', key, 'available', tonumber(held))
redis.call('HSET', key, 'updated_at', ARGV[1])
redis.call('SET', holdKey, 'void', 'PX', ARGV[2])
return 1
`)

// Creates the unit when missing; an existing unit keeps capacity and available.
var seedUnitScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'capacity', ARGV[2], 'available', ARGV[3])
end
redis.call('HSET', key, 'resource_type', ARGV[1], 'unit_price', ARGV[4], 'discount_price', ARGV[5], 'updated_at', ARGV[6])
return 1
`)

// Returns -1 when the unit is unknown, -2 when capacity would be exceeded, 1 on success.
var incrementInventoryScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local available = redis.call('HGET', key, 'available')
if not available then
	return -1
end

local capacity = tonumber(redis.call('HGET', key, 'capacity'))
if tonumber(available) + quantity > capacity then
	return -2
end

redis.call('HINCRBY', key, 'available', quantity)
redis.call('HSET', key, 'updated_at', ARGV[2])
return 1
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

// WithIdempotencyTTL overrides how long reservation keys are remembered.
func (r *RedisAdapter) WithIdempotencyTTL(ttl time.Duration) *RedisAdapter {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func unitKeyOf(resourceID, category string) string {
	return inventoryKeyPrefix + resourceID + ":" + category
}

func (r *RedisAdapter) GetAvailable(ctx context.Context, resourceID, category string) (int, error) {
	key := unitKeyOf(resourceID, category)

	available, err := r.client.HGet(ctx, key, "available").Int()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}
	if err != nil {
		return 0, fmt.Errorf("get available: %w", err)
	}
	return available, nil
}

func (r *RedisAdapter) GetUnit(ctx context.Context, resourceID, category string) (*domain.InventoryUnit, error) {
	fields, err := r.client.HGetAll(ctx, unitKeyOf(resourceID, category)).Result()
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}

	unit := &domain.InventoryUnit{
		ResourceType: domain.ResourceType(fields["resource_type"]),
		ResourceID:   resourceID,
		Category:     category,
	}
	unit.Capacity, _ = strconv.Atoi(fields["capacity"])
	unit.Available, _ = strconv.Atoi(fields["available"])
	unit.UnitPrice, _ = strconv.ParseInt(fields["unit_price"], 10, 64)
	unit.DiscountPrice, _ = strconv.ParseInt(fields["discount_price"], 10, 64)
	if ts, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		unit.UpdatedAt = time.Unix(0, ts)
	}
	return unit, nil
}

func holdKeyOf(holdID, resourceID, category string) string {
	return holdKeyPrefix + holdID + ":" + resourceID + ":" + category
}

func (r *RedisAdapter) TryDecrement(ctx context.Context, holdID, resourceID, category string, quantity int) (bool, error) {
	keys := []string{unitKeyOf(resourceID, category), holdKeyOf(holdID, resourceID, category)}

	result, err := decrementInventoryScript.Run(ctx, r.client, keys, quantity, time.Now().UnixNano(), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}
	if result == -1 {
		return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}

	return result == 1, nil
}

func (r *RedisAdapter) ReleaseHold(ctx context.Context, holdID, resourceID, category string) (bool, error) {
	keys := []string{unitKeyOf(resourceID, category), holdKeyOf(holdID, resourceID, category)}

	result, err := releaseHoldScript.Run(ctx, r.client, keys, time.Now().UnixNano(), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("release hold: %w", err)
	}
	if result < 0 {
		return false, fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	}

	return result == 1, nil
}

func (r *RedisAdapter) Increment(ctx context.Context, resourceID, category string, quantity int) error {
	key := unitKeyOf(resourceID, category)

	result, err := incrementInventoryScript.Run(ctx, r.client, []string{key}, quantity, time.Now().UnixNano()).Int()
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}
	switch result {
	case -1:
		return fmt.Errorf("%w: %s/%s", domain.ErrResourceNotFound, resourceID, category)
	case -2:
		return fmt.Errorf("%w: %s/%s", domain.ErrCapacityExceeded, resourceID, category)
	}
	return nil
}

func (r *RedisAdapter) UpsertUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	return r.client.HSet(ctx, unitKeyOf(unit.ResourceID, unit.Category),
		"resource_type", string(unit.ResourceType),
		"capacity", unit.Capacity,
		"available", unit.Available,
		"unit_price", unit.UnitPrice,
		"discount_price", unit.DiscountPrice,
		"updated_at", time.Now().UnixNano(),
	).Err()
}

func (r *RedisAdapter) SeedUnit(ctx context.Context, unit domain.InventoryUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	return seedUnitScript.Run(ctx, r.client, []string{unitKeyOf(unit.ResourceID, unit.Category)},
		string(unit.ResourceType), unit.Capacity, unit.Available,
		unit.UnitPrice, unit.DiscountPrice, time.Now().UnixNano(),
	).Err()
}

func (r *RedisAdapter) GetAddOn(ctx context.Context, resourceID, code string) (*domain.AddOn, error) {
	fields, err := r.client.HGetAll(ctx, addOnKeyPrefix+resourceID+":"+code).Result()
	if err != nil {
		return nil, fmt.Errorf("get add-on: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: add-on %s/%s", domain.ErrResourceNotFound, resourceID, code)
	}

	price, _ := strconv.ParseInt(fields["price"], 10, 64)
	return &domain.AddOn{ResourceID: resourceID, Code: code, Name: fields["name"], Price: price}, nil
}

func (r *RedisAdapter) UpsertAddOn(ctx context.Context, addOn domain.AddOn) error {
	if addOn.ResourceID == "" || addOn.Code == "" || addOn.Price < 0 {
		return fmt.Errorf("%w: invalid add-on", domain.ErrValidation)
	}
	return r.client.HSet(ctx, addOnKeyPrefix+addOn.ResourceID+":"+addOn.Code,
		"name", addOn.Name,
		"price", addOn.Price,
	).Err()
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
