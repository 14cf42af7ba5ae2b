package domain

import "sort"

// RiskDriver is one named risk signal in [0,1] contributing to a composite score.
// Drivers are derived values: always recomputed from current entity state,
// never incrementally patched.
type RiskDriver struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Detector names. The order of DriverPriority is also the fixed tie-break
// order when sorting drivers with equal values.
const (
	DriverVelocity       = "velocity"
	DriverStructuring    = "structuring"
	DriverJurisdiction   = "jurisdiction"
	DriverNewBeneficiary = "new_beneficiary"
	DriverRoundAmount    = "round_amount"
)

// DriverPriority lists the detectors in priority order:
// velocity > structuring > jurisdiction > new-beneficiary > round-amount.
var DriverPriority = []string{
	DriverVelocity,
	DriverStructuring,
	DriverJurisdiction,
	DriverNewBeneficiary,
	DriverRoundAmount,
}

func driverRank(name string) int {
	for i, n := range DriverPriority {
		if n == name {
			return i
		}
	}
	return len(DriverPriority)
}

// SortDrivers orders drivers descending by value, breaking ties by the fixed
// detector priority order. Sorting is stable and deterministic.
func SortDrivers(drivers []RiskDriver) {
	sort.SliceStable(drivers, func(i, j int) bool {
		if drivers[i].Value != drivers[j].Value {
			return drivers[i].Value > drivers[j].Value
		}
		return driverRank(drivers[i].Name) < driverRank(drivers[j].Name)
	})
}
