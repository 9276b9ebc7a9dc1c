// Package tariff maps timestamps to time-of-use energy prices and demand
// charge rates. A schedule has three bands: peak and valley are half-open
// hour-of-day intervals, nighttime is the catch-all for everything else.
package tariff

import (
	"fmt"
	"time"
)

// Band is a half-open hour-of-day interval [StartHour, EndHour).
type Band struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether the hour falls inside the band.
func (b Band) Contains(hour int) bool {
	return hour >= b.StartHour && hour < b.EndHour
}

// Schedule holds the full time-of-use tariff. Bands are checked peak first,
// then valley; anything else is billed at the nighttime rates, so the bands
// need not partition the day.
type Schedule struct {
	Peak   Band `json:"peak"`
	Valley Band `json:"valley"`

	PeakEnergyPrice   float64 `json:"peak_energy_price"`   // per kWh
	ValleyEnergyPrice float64 `json:"valley_energy_price"` // per kWh
	NightEnergyPrice  float64 `json:"night_energy_price"`  // per kWh

	PeakDemandRate   float64 `json:"peak_demand_rate"`   // per kW
	ValleyDemandRate float64 `json:"valley_demand_rate"` // per kW
	NightDemandRate  float64 `json:"night_demand_rate"`  // per kW
}

// EnergyPrice returns the energy price applying at the given timestamp.
// Only the local hour-of-day is examined.
func (s Schedule) EnergyPrice(ts time.Time) float64 {
	switch hour := ts.Hour(); {
	case s.Peak.Contains(hour):
		return s.PeakEnergyPrice
	case s.Valley.Contains(hour):
		return s.ValleyEnergyPrice
	default:
		return s.NightEnergyPrice
	}
}

// DemandRate returns the demand charge rate for the given hour-of-day.
func (s Schedule) DemandRate(hour int) float64 {
	switch {
	case s.Peak.Contains(hour):
		return s.PeakDemandRate
	case s.Valley.Contains(hour):
		return s.ValleyDemandRate
	default:
		return s.NightDemandRate
	}
}

// PriceSeries returns the per-step energy prices for a horizon.
func (s Schedule) PriceSeries(timestamps []time.Time) []float64 {
	prices := make([]float64, len(timestamps))
	for i, ts := range timestamps {
		prices[i] = s.EnergyPrice(ts)
	}
	return prices
}

// AveragePrice returns the mean of the three band prices. The fallback
// policy costs grid energy at this flat rate.
func (s Schedule) AveragePrice() float64 {
	return (s.PeakEnergyPrice + s.ValleyEnergyPrice + s.NightEnergyPrice) / 3
}

// Validate checks band boundaries.
func (s Schedule) Validate() error {
	for name, b := range map[string]Band{"peak": s.Peak, "valley": s.Valley} {
		if b.StartHour < 0 || b.StartHour > 23 {
			return fmt.Errorf("%s start hour out of range: %d", name, b.StartHour)
		}
		if b.EndHour < 0 || b.EndHour > 24 {
			return fmt.Errorf("%s end hour out of range: %d", name, b.EndHour)
		}
		if b.EndHour <= b.StartHour {
			return fmt.Errorf("%s band is empty: [%d,%d)", name, b.StartHour, b.EndHour)
		}
	}
	return nil
}
