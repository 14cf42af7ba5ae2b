package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing services
	Tier Tier `json:"tier"`

	// Engine settings
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds stream-processing settings.
type EngineConfig struct {
	// Topic is the transaction topic consumed from the broker.
	Topic string `json:"topic"`

	// Group is the consumer group used for offset commits.
	Group string `json:"group"`

	// Partitions is the partition count of the in-memory log
	// (ignored for external brokers, which own their partitioning).
	Partitions int `json:"partitions"`

	// WindowSteps is the rolling aggregate window in logical steps.
	WindowSteps int `json:"windowSteps"`

	// HopRadius bounds case graphs around their root.
	HopRadius int `json:"hopRadius"`

	// PromotionPolicy is a CEL expression deciding case promotion.
	// It sees composite, level, amount, tx_type and the drivers map.
	PromotionPolicy string `json:"promotionPolicy"`

	// Risk-level banding thresholds; documented defaults, not fixed law.
	OpenThreshold   float64 `json:"openThreshold"`
	ReviewThreshold float64 `json:"reviewThreshold"`
}

// Thresholds returns the configured risk-level banding.
func (c EngineConfig) Thresholds() Thresholds {
	return Thresholds{Open: c.OpenThreshold, Review: c.ReviewThreshold}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channel bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			Topic:           "aml_transactions",
			Group:           "harrier-engine",
			Partitions:      4,
			WindowSteps:     DefaultWindowSteps,
			HopRadius:       DefaultHopRadius,
			OpenThreshold:   DefaultOpenThreshold,
			ReviewThreshold: DefaultReviewThreshold,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
