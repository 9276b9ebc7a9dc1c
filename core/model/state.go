package model

import "time"

// ControllerState persists across optimization cycles. It is owned by the
// controller and mutated only at the end of a cycle.
type ControllerState struct {
	CurrentSoC           float64   `json:"current_soc"`
	LastOptimizationTime time.Time `json:"last_optimization_time"`
	OptimizationCount    int       `json:"optimization_count"`
	LastBatteryCommandKW float64   `json:"last_battery_command_kw"`
}

// DispatchCommand is the externally visible result of one cycle: the
// first-step battery power to apply now. Commands are immutable; the next
// cycle supersedes them with a fresh one.
type DispatchCommand struct {
	ID             string       `json:"id"`
	Timestamp      time.Time    `json:"timestamp"`
	BatteryPowerKW float64      `json:"battery_power_kw"` // positive = charge
	Status         ResultStatus `json:"-"`
	StatusText     string       `json:"status"`
	Degraded       bool         `json:"degraded"` // true when fallback inputs were substituted
}

// Schedule is the published full-horizon view of the latest result.
type Schedule struct {
	Timestamp      time.Time `json:"timestamp"`
	HorizonHours   float64   `json:"horizon_hours"`
	BatteryPowerKW []float64 `json:"battery_power_schedule"`
	GridPowerKW    []float64 `json:"grid_power_schedule"`
	SoC            []float64 `json:"soc_schedule"`
	PeakDemandKW   float64   `json:"peak_demand_kw"`
	TotalCost      float64   `json:"total_cost"`
	EnergyCost     float64   `json:"energy_cost"`
	DemandCost     float64   `json:"demand_cost"`
	SolverStatus   string    `json:"solver_status"`
	SolverTimeSecs float64   `json:"solver_time_seconds"`
}

// Clone returns a deep copy so callers can hand out schedules without
// aliasing the stored slices.
func (s Schedule) Clone() Schedule {
	cp := s
	cp.BatteryPowerKW = append([]float64(nil), s.BatteryPowerKW...)
	cp.GridPowerKW = append([]float64(nil), s.GridPowerKW...)
	cp.SoC = append([]float64(nil), s.SoC...)
	return cp
}
