package domain

import "context"

// Profile is the static entity profile kept in the relational store.
// The engine consumes it read-only.
type Profile struct {
	EntityID     string  `json:"entityId"`
	FullName     string  `json:"fullName"`
	Occupation   string  `json:"occupation"`
	AnnualIncome int64   `json:"annualIncome"`
	Jurisdiction string  `json:"jurisdiction"`

	// JurisdictionRisk in [0,1]; 0 when unknown.
	JurisdictionRisk float64 `json:"jurisdictionRisk"`
}

// ProfileStore is the read-only profile lookup contract.
// A missing record returns ErrProfileNotFound; an outage returns an error
// wrapping ErrLookupUnavailable.
type ProfileStore interface {
	GetProfile(ctx context.Context, entityID string) (*Profile, error)

	Ping(ctx context.Context) error
	Close() error
}
