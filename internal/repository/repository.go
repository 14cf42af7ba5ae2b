// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent appends a transaction to the log. Replaying the same
// (partition, offset) is a no-op, which keeps persistence idempotent under
// at-least-once delivery.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.TransactionEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: event is required", ErrInvalidInput)
	}

	isSAR := 0
	if ev.IsSAR {
		isSAR = 1
	}

	query := `
		INSERT INTO tx_log (
			partition, log_offset, step, type, amount,
			name_orig, name_dest, is_sar, alert_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition, log_offset) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.Partition, ev.Offset, ev.Step, string(ev.Type),
		ev.Amount.String(), ev.OriginID, ev.DestID, isSAR, ev.AlertID,
	)
	return err
}

// GetEvent retrieves one transaction by its log position.
func (r *SQLRepository) GetEvent(ctx context.Context, partition int32, offset int64) (*domain.TransactionEvent, error) {
	query := `
		SELECT partition, log_offset, step, type, amount,
			   name_orig, name_dest, is_sar, alert_id
		FROM tx_log
		WHERE partition = ? AND log_offset = ?
	`

	ev, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), partition, offset))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// GetEventsByEntity retrieves transactions touching an entity as origin or
// destination, newest step first.
func (r *SQLRepository) GetEventsByEntity(ctx context.Context, entityID string, sinceStep int) ([]*domain.TransactionEvent, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entityID is required", ErrInvalidInput)
	}

	query := `
		SELECT partition, log_offset, step, type, amount,
			   name_orig, name_dest, is_sar, alert_id
		FROM tx_log
		WHERE (name_orig = ? OR name_dest = ?)
		  AND step >= ?
		ORDER BY step DESC, partition, log_offset
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityID, entityID, sinceStep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TransactionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// SaveCase upserts a case record.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case id is required", ErrInvalidInput)
	}

	drivers, _ := json.Marshal(c.Drivers)

	query := `
		INSERT INTO cases (
			id, entity_id, risk_level, risk_score, status, drivers,
			opened_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			risk_level = excluded.risk_level,
			risk_score = excluded.risk_score,
			status = excluded.status,
			drivers = excluded.drivers,
			updated_at = excluded.updated_at,
			version = excluded.version
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.EntityID, string(c.RiskLevel), c.RiskScore, string(c.Status),
		string(drivers), c.OpenedAt, c.UpdatedAt, c.Version,
	)
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	query := `
		SELECT id, entity_id, risk_level, risk_score, status, drivers,
			   opened_at, updated_at, version
		FROM cases
		WHERE id = ?
	`

	var c domain.Case
	var drivers string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&c.ID, &c.EntityID, &c.RiskLevel, &c.RiskScore, &c.Status,
		&drivers, &c.OpenedAt, &c.UpdatedAt, &c.Version,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}

	if drivers != "" {
		if err := json.Unmarshal([]byte(drivers), &c.Drivers); err != nil {
			return nil, fmt.Errorf("failed to decode drivers for case %s: %w", c.ID, err)
		}
	}

	return &c, nil
}

// ListCases retrieves cases filtered by optional status and risk level.
func (r *SQLRepository) ListCases(ctx context.Context, status domain.CaseStatus, level domain.RiskLevel) ([]*domain.Case, error) {
	query := `
		SELECT id, entity_id, risk_level, risk_score, status, drivers,
			   opened_at, updated_at, version
		FROM cases
		WHERE (? = '' OR status = ?)
		  AND (? = '' OR risk_level = ?)
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		string(status), string(status), string(level), string(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		var c domain.Case
		var drivers string

		if err := rows.Scan(
			&c.ID, &c.EntityID, &c.RiskLevel, &c.RiskScore, &c.Status,
			&drivers, &c.OpenedAt, &c.UpdatedAt, &c.Version,
		); err != nil {
			return nil, err
		}

		if drivers != "" {
			if err := json.Unmarshal([]byte(drivers), &c.Drivers); err != nil {
				return nil, fmt.Errorf("failed to decode drivers for case %s: %w", c.ID, err)
			}
		}
		cases = append(cases, &c)
	}

	return cases, rows.Err()
}

// SaveProfile upserts an entity profile. Used for seeding and by tooling;
// the engine itself only reads profiles.
func (r *SQLRepository) SaveProfile(ctx context.Context, p *domain.Profile) error {
	if p == nil || p.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO customer_profiles (
			customer_id, full_name, occupation, annual_income,
			jurisdiction, jurisdiction_risk
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET
			full_name = excluded.full_name,
			occupation = excluded.occupation,
			annual_income = excluded.annual_income,
			jurisdiction = excluded.jurisdiction,
			jurisdiction_risk = excluded.jurisdiction_risk
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.EntityID, p.FullName, p.Occupation, p.AnnualIncome,
		p.Jurisdiction, p.JurisdictionRisk,
	)
	return err
}

// GetProfile retrieves an entity profile.
func (r *SQLRepository) GetProfile(ctx context.Context, entityID string) (*domain.Profile, error) {
	query := `
		SELECT customer_id, full_name, occupation, annual_income,
			   jurisdiction, jurisdiction_risk
		FROM customer_profiles
		WHERE customer_id = ?
	`

	var p domain.Profile
	err := r.db.QueryRowContext(ctx, r.rebind(query), entityID).Scan(
		&p.EntityID, &p.FullName, &p.Occupation, &p.AnnualIncome,
		&p.Jurisdiction, &p.JurisdictionRisk,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.TransactionEvent, error) {
	var ev domain.TransactionEvent
	var txType, amount string
	var isSAR int

	if err := row.Scan(
		&ev.Partition, &ev.Offset, &ev.Step, &txType, &amount,
		&ev.OriginID, &ev.DestID, &isSAR, &ev.AlertID,
	); err != nil {
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q does not parse: %w", amount, err)
	}
	ev.Type = domain.TxType(txType)
	ev.Amount = dec
	ev.IsSAR = isSAR == 1
	return &ev, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
