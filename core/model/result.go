package model

import "time"

// ResultStatus tags the outcome of one optimization attempt.
type ResultStatus int

const (
	// StatusOptimal means the LP solver proved global optimality.
	StatusOptimal ResultStatus = iota
	// StatusFallback means the solver failed and the conservative
	// zero-battery policy was applied instead.
	StatusFallback
	// StatusError means the cycle failed before a usable result existed.
	StatusError
)

// String returns a human-readable representation of the status.
func (s ResultStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFallback:
		return "fallback"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// OptimizationResult holds the full horizon solution of one solve. Power
// schedules have exactly N entries, the SoC trajectory N+1 entries with
// index 0 equal to the SoC the solve started from.
type OptimizationResult struct {
	Status ResultStatus

	BatteryPowerKW   []float64 // signed, positive = charge
	GridPowerKW      []float64 // import only, >= 0
	ChargePowerKW    []float64
	DischargePowerKW []float64
	SoC              []float64

	PeakDemandKW float64
	TotalCost    float64
	EnergyCost   float64
	DemandCost   float64
	SolveTime    time.Duration
}

// Clone returns a deep copy so published results stay immutable.
func (r OptimizationResult) Clone() OptimizationResult {
	cp := r
	cp.BatteryPowerKW = append([]float64(nil), r.BatteryPowerKW...)
	cp.GridPowerKW = append([]float64(nil), r.GridPowerKW...)
	cp.ChargePowerKW = append([]float64(nil), r.ChargePowerKW...)
	cp.DischargePowerKW = append([]float64(nil), r.DischargePowerKW...)
	cp.SoC = append([]float64(nil), r.SoC...)
	return cp
}
