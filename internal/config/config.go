package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Booking   BookingConfig   `mapstructure:"booking"`
	Events    EventsConfig    `mapstructure:"events"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	Mode            string        `mapstructure:"mode"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres or memory
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type InventoryConfig struct {
	Backend string     `mapstructure:"backend"` // redis, sql or memory
	Seed    []UnitSeed `mapstructure:"seed"`
}

// UnitSeed describes an inventory unit loaded at start. A missing available
// count means the unit starts with its full capacity.
type UnitSeed struct {
	ResourceType  string `mapstructure:"resource_type"`
	ResourceID    string `mapstructure:"resource_id"`
	Category      string `mapstructure:"category"`
	Capacity      int    `mapstructure:"capacity"`
	Available     *int   `mapstructure:"available"`
	UnitPrice     int64  `mapstructure:"unit_price"`
	DiscountPrice int64  `mapstructure:"discount_price"`
}

func (s UnitSeed) Unit() domain.InventoryUnit {
	available := s.Capacity
	if s.Available != nil {
		available = *s.Available
	}
	return domain.InventoryUnit{
		ResourceType:  domain.ResourceType(s.ResourceType),
		ResourceID:    s.ResourceID,
		Category:      s.Category,
		Capacity:      s.Capacity,
		Available:     available,
		UnitPrice:     s.UnitPrice,
		DiscountPrice: s.DiscountPrice,
	}
}

type CatalogConfig struct {
	AddOns []AddOnSeed `mapstructure:"add_ons"`
}

type AddOnSeed struct {
	ResourceID string `mapstructure:"resource_id"`
	Code       string `mapstructure:"code"`
	Name       string `mapstructure:"name"`
	Price      int64  `mapstructure:"price"`
}

func (s AddOnSeed) AddOn() domain.AddOn {
	return domain.AddOn{ResourceID: s.ResourceID, Code: s.Code, Name: s.Name, Price: s.Price}
}

type BookingConfig struct {
	TaxPercent        float64       `mapstructure:"tax_percent"`
	ServiceFeePercent float64       `mapstructure:"service_fee_percent"`
	StorageTimeout    time.Duration `mapstructure:"storage_timeout"`
}

type EventsConfig struct {
	Backend   string   `mapstructure:"backend"` // kafka, rabbitmq or log
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	URL       string   `mapstructure:"url"`
	Exchange  string   `mapstructure:"exchange"`
	Workers   int      `mapstructure:"workers"`
	QueueSize int      `mapstructure:"queue_size"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"` // host:port or URL of an OTLP/HTTP collector; empty disables export
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load reads the YAML file at path (or ./config/config.yaml when path is empty)
// and applies BOOKING_* environment overrides, e.g. BOOKING_STORAGE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BOOKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Inventory.Backend {
	case "redis", "sql", "memory":
	default:
		return fmt.Errorf("inventory.backend %q must be redis, sql or memory", c.Inventory.Backend)
	}
	switch c.Storage.Driver {
	case "mysql", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "memory":
		if c.Inventory.Backend == "sql" {
			return errors.New("inventory.backend sql needs storage.driver mysql or postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q must be mysql, postgres or memory", c.Storage.Driver)
	}
	switch c.Events.Backend {
	case "kafka":
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			return errors.New("events.brokers and events.topic are required for kafka")
		}
	case "rabbitmq":
		if c.Events.URL == "" || c.Events.Exchange == "" {
			return errors.New("events.url and events.exchange are required for rabbitmq")
		}
	case "log":
	default:
		return fmt.Errorf("events.backend %q must be kafka, rabbitmq or log", c.Events.Backend)
	}
	if c.Booking.TaxPercent < 0 || c.Booking.ServiceFeePercent < 0 {
		return errors.New("booking percentages must not be negative")
	}
	if c.Booking.StorageTimeout <= 0 {
		return errors.New("booking.storage_timeout must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v must be within [0, 1]", c.Tracing.SampleRatio)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_open_conns", 50)
	v.SetDefault("storage.max_idle_conns", 10)
	v.SetDefault("storage.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("storage.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)

	v.SetDefault("inventory.backend", "memory")

	v.SetDefault("booking.tax_percent", 8)
	v.SetDefault("booking.service_fee_percent", 5)
	v.SetDefault("booking.storage_timeout", 2*time.Second)

	v.SetDefault("events.backend", "log")
	v.SetDefault("events.topic", "booking-events")
	v.SetDefault("events.exchange", "booking-events")
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 10000)

	v.SetDefault("tracing.service_name", "travel-booking")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
