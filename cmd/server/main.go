package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/rl1809/travel-booking/internal/adapter/handler"
	"github.com/rl1809/travel-booking/internal/adapter/publisher"
	"github.com/rl1809/travel-booking/internal/adapter/storage"
	"github.com/rl1809/travel-booking/internal/config"
	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/core/pricing"
	"github.com/rl1809/travel-booking/internal/core/service"
	"github.com/rl1809/travel-booking/internal/port"
	"github.com/rl1809/travel-booking/internal/tracing"
)

const idempotencyPurgeInterval = time.Hour

// backends holds the adapters chosen by configuration plus what must be
// closed on shutdown.
type backends struct {
	inventory port.InventoryStore
	addOns    port.AddOnCatalog
	ledger    port.BookingLedger
	keys      port.IdempotencyStore

	// purger drops expired idempotency keys and inventory holds from the
	// stores that do not expire them on their own.
	purger keyPurger

	rdb *redis.Client
	db  *sqlx.DB
}

type keyPurger interface {
	PurgeIdempotencyKeys(ctx context.Context, ttl time.Duration) (int64, error)
}

func (b *backends) close() {
	if b.rdb != nil {
		b.rdb.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	switch {
	case err != nil:
		log.WithError(err).Warn("tracing disabled")
	case tp != nil:
		log.WithField("endpoint", cfg.Tracing.Endpoint).Info("tracing enabled")
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer flushCancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.WithError(err).Warn("flush traces")
		}
	}()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer b.close()

	if err := seed(ctx, cfg, b); err != nil {
		log.Fatalf("failed to seed inventory: %v", err)
	}

	pub, err := newPublisher(cfg.Events)
	if err != nil {
		log.Fatalf("failed to create event publisher: %v", err)
	}
	dispatcher := service.NewEventDispatcher(pub, cfg.Events.QueueSize, log.StandardLogger())
	dispatcher.Start(cfg.Events.Workers)
	log.WithFields(log.Fields{
		"backend": cfg.Events.Backend,
		"workers": cfg.Events.Workers,
	}).Info("event dispatcher started")

	policy, err := pricing.PolicyFromPercent(cfg.Booking.TaxPercent, cfg.Booking.ServiceFeePercent)
	if err != nil {
		log.Fatalf("invalid pricing policy: %v", err)
	}
	deps := service.Dependencies{
		Inventory:      b.inventory,
		AddOns:         b.addOns,
		Ledger:         b.ledger,
		Keys:           b.keys,
		Events:         dispatcher,
		Logger:         log.StandardLogger(),
		StorageTimeout: cfg.Booking.StorageTimeout,
	}
	reservations := service.NewReservationService(deps, pricing.NewCalculator(policy))
	cancellations := service.NewCancellationService(deps)

	go purgeIdempotencyKeys(ctx, b.purger, cfg.Redis.IdempotencyTTL)

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log.StandardLogger())))
	handler.NewGRPCHandler(reservations, cancellations).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	go func() {
		log.Infof("gRPC server listening on %s", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	// HTTP
	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(handler.NewHTTPHandler(reservations, cancellations), log.StandardLogger(), cfg.Server.RequestTimeout)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Infof("HTTP server listening on %s", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	dispatcher.Close()
	if err := pub.Close(); err != nil {
		log.Warnf("close publisher: %v", err)
	}
	log.Info("event dispatcher stopped")
}

func setupLogger(cfg config.LogConfig) {
	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	mem := storage.NewMemoryAdapter().WithIdempotencyTTL(cfg.Redis.IdempotencyTTL)
	b.inventory, b.addOns, b.ledger, b.keys = mem, mem, mem, mem
	b.purger = mem

	if cfg.Storage.Driver != "memory" {
		db, err := storage.OpenSQL(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Storage.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Storage.ConnMaxLifetime)
		b.db = db
		log.WithField("driver", cfg.Storage.Driver).Info("connected to database")

		if cfg.Storage.Migrate {
			if err := storage.RunMigrations(ctx, db); err != nil {
				b.close()
				return nil, err
			}
		}
		sa := storage.NewSQLAdapter(db)
		b.ledger, b.keys, b.purger = sa, sa, sa
		if cfg.Inventory.Backend == "sql" {
			b.inventory, b.addOns = sa, sa
		}
	}

	if cfg.Inventory.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, err
		}
		b.rdb = rdb
		log.WithField("addr", cfg.Redis.Addr).Info("connected to redis")

		ra := storage.NewRedisAdapter(rdb).WithIdempotencyTTL(cfg.Redis.IdempotencyTTL)
		b.inventory, b.addOns, b.keys = ra, ra, ra
	}
	return b, nil
}

type catalogWriter interface {
	SeedUnit(ctx context.Context, unit domain.InventoryUnit) error
	UpsertAddOn(ctx context.Context, addOn domain.AddOn) error
}

// seed loads the configured catalog. Units that already exist keep their live
// counts so a restart never resurrects booked inventory.
func seed(ctx context.Context, cfg *config.Config, b *backends) error {
	w, ok := b.inventory.(catalogWriter)
	if !ok {
		return errors.New("inventory backend cannot be seeded")
	}
	for _, s := range cfg.Inventory.Seed {
		unit := s.Unit()
		if err := w.SeedUnit(ctx, unit); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"resource_id": unit.ResourceID,
			"category":    unit.Category,
			"capacity":    unit.Capacity,
		}).Info("seeded inventory")
	}

	aw, ok := b.addOns.(catalogWriter)
	if !ok {
		return errors.New("add-on catalog cannot be seeded")
	}
	for _, s := range cfg.Catalog.AddOns {
		if err := aw.UpsertAddOn(ctx, s.AddOn()); err != nil {
			return err
		}
	}
	return nil
}

type closablePublisher interface {
	port.EventPublisher
	io.Closer
}

func newPublisher(cfg config.EventsConfig) (closablePublisher, error) {
	switch cfg.Backend {
	case "kafka":
		return publisher.NewKafkaPublisher(cfg.Brokers, cfg.Topic), nil
	case "rabbitmq":
		return publisher.NewRabbitPublisher(cfg.URL, cfg.Exchange)
	default:
		return publisher.NewLogPublisher(log.StandardLogger()), nil
	}
}

func purgeIdempotencyKeys(ctx context.Context, s keyPurger, ttl time.Duration) {
	ticker := time.NewTicker(idempotencyPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeIdempotencyKeys(ctx, ttl)
			if err != nil {
				log.WithError(err).Warn("failed to purge idempotency keys")
				continue
			}
			if n > 0 {
				log.WithField("purged", n).Info("purged expired idempotency keys and holds")
			}
		}
	}
}
