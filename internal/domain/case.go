package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel buckets a composite score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "LOW"
	LevelMedium RiskLevel = "MEDIUM"
	LevelHigh   RiskLevel = "HIGH"
)

// Default promotion thresholds. These are documented defaults, overridable
// via configuration, not fixed policy.
const (
	DefaultOpenThreshold   = 70.0
	DefaultReviewThreshold = 40.0
)

// Thresholds are the composite-score cut-offs for the HIGH and MEDIUM bands.
// Non-positive fields fall back to the documented defaults, so the zero value
// is usable.
type Thresholds struct {
	Open   float64 `json:"open"`
	Review float64 `json:"review"`
}

// DefaultThresholds returns the documented default banding.
func DefaultThresholds() Thresholds {
	return Thresholds{Open: DefaultOpenThreshold, Review: DefaultReviewThreshold}
}

// Level maps a composite score in [0,100] to a risk level.
func (t Thresholds) Level(score float64) RiskLevel {
	if t.Open <= 0 {
		t.Open = DefaultOpenThreshold
	}
	if t.Review <= 0 {
		t.Review = DefaultReviewThreshold
	}
	switch {
	case score >= t.Open:
		return LevelHigh
	case score >= t.Review:
		return LevelMedium
	default:
		return LevelLow
	}
}

// CaseStatus is the investigation state of a case.
// Transitions are manual: OPEN -> IN_REVIEW -> CLOSED. There is no automatic
// close path; open and in-review cases persist until an explicit action.
type CaseStatus string

const (
	CaseOpen     CaseStatus = "OPEN"
	CaseInReview CaseStatus = "IN_REVIEW"
	CaseClosed   CaseStatus = "CLOSED"
)

// Case is an investigable unit rooted at a single entity.
type Case struct {
	ID        string     `json:"id"`
	EntityID  string     `json:"entityId"`
	RiskLevel RiskLevel  `json:"riskLevel"`
	RiskScore float64    `json:"riskScore"`
	Status    CaseStatus `json:"status"`

	// Drivers holds the five detector outputs at the time of the last
	// recomputation, sorted descending with the fixed tie-break order.
	Drivers []RiskDriver `json:"drivers"`

	OpenedAt  time.Time `json:"openedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version increments on every mutation; readers use it to detect
	// which snapshot generation they hold.
	Version uint64 `json:"version"`
}

// GraphNode is one entity in a case graph.
type GraphNode struct {
	ID string `json:"id"`

	// Hop is the node's distance from the case root, 0 for the root itself.
	Hop int `json:"hop"`
}

// GraphEdge aggregates all transactions between two entities.
type GraphEdge struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`

	// Alert is set when any contributing transaction carried a SAR flag.
	Alert   bool  `json:"alert"`
	AlertID int64 `json:"alertId"`
}

// CaseGraph is a derived, rebuildable view of the transactions around a case
// root, bounded to HopRadius hops. It is never the source of truth.
type CaseGraph struct {
	CaseID    string      `json:"caseId"`
	RootID    string      `json:"rootId"`
	HopRadius int         `json:"hopRadius"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Version   uint64      `json:"version"`
}

// DefaultHopRadius bounds case graphs to two hops from the root.
const DefaultHopRadius = 2
