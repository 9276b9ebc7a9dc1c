package model

import (
	"fmt"
	"time"
)

// Series is an ordered sequence of timestamped power values in kW.
type Series struct {
	Values     []float64
	Timestamps []time.Time
}

// ForecastSeries pairs the load and solar forecasts covering one horizon.
// Both series share the same timestamps index by index.
type ForecastSeries struct {
	Load  Series
	Solar Series
}

// Validate checks that both series cover exactly n steps with strictly
// increasing timestamps shared between load and solar.
func (f ForecastSeries) Validate(n int) error {
	if len(f.Load.Values) != n || len(f.Load.Timestamps) != n {
		return fmt.Errorf("load series length %d/%d, want %d", len(f.Load.Values), len(f.Load.Timestamps), n)
	}
	if len(f.Solar.Values) != n || len(f.Solar.Timestamps) != n {
		return fmt.Errorf("solar series length %d/%d, want %d", len(f.Solar.Values), len(f.Solar.Timestamps), n)
	}
	for i := 0; i < n; i++ {
		if !f.Load.Timestamps[i].Equal(f.Solar.Timestamps[i]) {
			return fmt.Errorf("load/solar timestamps diverge at index %d", i)
		}
		if i > 0 && !f.Load.Timestamps[i].After(f.Load.Timestamps[i-1]) {
			return fmt.Errorf("timestamps not strictly increasing at index %d", i)
		}
	}
	return nil
}
