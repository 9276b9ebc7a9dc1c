package model

import (
	"fmt"
	"math"
)

// HorizonParameters describes the optimization horizon and the physical
// limits of the battery being dispatched.
type HorizonParameters struct {
	Steps        int     // number of steps N in the horizon
	StepHours    float64 // step duration dt in hours
	CapacityKWh  float64 // usable battery capacity
	MaxPowerKW   float64 // charge/discharge power limit
	RoundTripEff float64 // fraction of energy recovered after a full charge+discharge cycle
	SoCMin       float64
	SoCMax       float64
}

// EtaCharge returns the one-way charging efficiency. Charging and
// discharging each take the square root of the round-trip efficiency so a
// full cycle recovers exactly RoundTripEff.
func (p HorizonParameters) EtaCharge() float64 {
	return math.Sqrt(p.RoundTripEff)
}

// EtaDischarge returns the one-way discharging efficiency.
func (p HorizonParameters) EtaDischarge() float64 {
	return math.Sqrt(p.RoundTripEff)
}

// HorizonHours returns the total horizon length.
func (p HorizonParameters) HorizonHours() float64 {
	return float64(p.Steps) * p.StepHours
}

// Validate checks that the parameters describe a solvable horizon.
func (p HorizonParameters) Validate() error {
	if p.Steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", p.Steps)
	}
	if p.StepHours <= 0 {
		return fmt.Errorf("step duration must be positive, got %v", p.StepHours)
	}
	if p.CapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be positive, got %v", p.CapacityKWh)
	}
	if p.MaxPowerKW <= 0 {
		return fmt.Errorf("max power must be positive, got %v", p.MaxPowerKW)
	}
	if p.RoundTripEff <= 0 || p.RoundTripEff > 1 {
		return fmt.Errorf("round-trip efficiency must be in (0,1], got %v", p.RoundTripEff)
	}
	if p.SoCMin <= 0 || p.SoCMin > p.SoCMax || p.SoCMax > 1 {
		return fmt.Errorf("soc bounds must satisfy 0 < min <= max <= 1, got [%v,%v]", p.SoCMin, p.SoCMax)
	}
	return nil
}
