package optimizer

import (
	"fmt"
	"math"

	"github.com/mfallas/mpcdispatch/core/model"
)

// Tolerance is the absolute slack allowed when checking solver output
// against physical bounds, absorbing numerical noise.
const Tolerance = 1e-6

// Validator performs post-solve sanity checks on an optimization result,
// independent of what the solver reported.
type Validator struct {
	params model.HorizonParameters
}

// NewValidator returns a Validator bound to the given horizon parameters.
func NewValidator(params model.HorizonParameters) Validator {
	return Validator{params: params}
}

// Validate returns nil when the result respects schedule lengths and
// physical bounds within Tolerance, and an error naming the first
// violation otherwise. It has no side effects.
func (v Validator) Validate(res *model.OptimizationResult) error {
	if res.Status != model.StatusOptimal && res.Status != model.StatusFallback {
		return fmt.Errorf("unexpected result status %s", res.Status)
	}
	n := v.params.Steps
	if len(res.BatteryPowerKW) != n {
		return fmt.Errorf("battery schedule has %d steps, want %d", len(res.BatteryPowerKW), n)
	}
	if len(res.GridPowerKW) != n {
		return fmt.Errorf("grid schedule has %d steps, want %d", len(res.GridPowerKW), n)
	}
	if len(res.SoC) != n+1 {
		return fmt.Errorf("soc trajectory has %d entries, want %d", len(res.SoC), n+1)
	}
	for t, p := range res.BatteryPowerKW {
		if math.Abs(p) > v.params.MaxPowerKW+Tolerance {
			return fmt.Errorf("battery power %.6f kW at step %d exceeds limit %.2f kW", p, t, v.params.MaxPowerKW)
		}
	}
	for k, s := range res.SoC {
		if s < v.params.SoCMin-Tolerance || s > v.params.SoCMax+Tolerance {
			return fmt.Errorf("soc %.6f at step %d outside [%.2f,%.2f]", s, k, v.params.SoCMin, v.params.SoCMax)
		}
	}
	for t, p := range res.GridPowerKW {
		if p < -Tolerance {
			return fmt.Errorf("negative grid power %.6f kW at step %d", p, t)
		}
	}
	return nil
}
