package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/adapter/storage"
	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/core/pricing"
	"github.com/rl1809/travel-booking/internal/core/service"
)

const (
	resourceID = "stress-flight"
	category   = "economy"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	capacity := flag.Int("capacity", 20, "seats available before the run")
	requests := flag.Int("requests", 50, "concurrent reservation attempts")
	quantity := flag.Int("quantity", 1, "seats per reservation")
	flag.Parse()

	if *quantity <= 0 || *capacity < 0 {
		log.Fatal("quantity must be positive and capacity non-negative")
	}
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	inventory := storage.NewRedisAdapter(rdb)
	if err := inventory.UpsertUnit(ctx, domain.InventoryUnit{
		ResourceType: domain.ResourceFlight,
		ResourceID:   resourceID,
		Category:     category,
		Capacity:     *capacity,
		Available:    *capacity,
		UnitPrice:    1_000_000,
	}); err != nil {
		log.Fatalf("failed to seed inventory: %v", err)
	}

	ledger := storage.NewMemoryAdapter()
	policy, err := pricing.PolicyFromPercent(8, 5)
	if err != nil {
		log.Fatal(err)
	}
	reservations := service.NewReservationService(service.Dependencies{
		Inventory: inventory,
		AddOns:    inventory,
		Ledger:    ledger,
		Keys:      ledger,
	}, pricing.NewCalculator(policy))

	var successCount, soldOutCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()

			_, err := reservations.Reserve(ctx, domain.BookingRequest{
				ResourceType: domain.ResourceFlight,
				ResourceID:   resourceID,
				RequesterID:  fmt.Sprintf("user-%d", user),
				Quantities:   map[string]int{category: *quantity},
				Contact:      domain.ContactInfo{Name: "Stress", Email: "stress@example.com"},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientInventory):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	expected := min(*capacity / *quantity, *requests)
	wantLeft := *capacity - expected*(*quantity)
	remaining, _ := inventory.GetAvailable(ctx, resourceID, category)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Capacity:         %d\n", *capacity)
	fmt.Printf("Requests:         %d x %d seats\n", *requests, *quantity)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Sold out:         %d\n", soldOutCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Remaining seats:  %d\n", remaining)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if int(successCount.Load()) == expected && remaining == wantLeft {
		fmt.Printf("PASS: %d reservations succeeded, %d seats left\n", expected, remaining)
	} else {
		fmt.Printf("FAIL: expected %d reservations and %d seats left\n", expected, wantLeft)
	}
}
