package domain

import (
	"context"
	"time"
)

// Repository is the persistence contract for the transaction log, cases and
// entity profiles. The hot path tolerates a nil repository; persistence is
// required only for graph rebuilds and offline tooling.
type Repository interface {
	// Transaction log. SaveEvent is idempotent on (partition, offset) so
	// at-least-once replay never duplicates rows.
	SaveEvent(ctx context.Context, ev *TransactionEvent) error
	GetEvent(ctx context.Context, partition int32, offset int64) (*TransactionEvent, error)
	GetEventsByEntity(ctx context.Context, entityID string, sinceStep int) ([]*TransactionEvent, error)

	// Case records.
	SaveCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, status CaseStatus, level RiskLevel) ([]*Case, error)

	// Entity profiles (read side of the profile lookup contract; the write
	// side exists for seeding and tests).
	SaveProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, entityID string) (*Profile, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
