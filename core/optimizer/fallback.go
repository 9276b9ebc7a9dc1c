package optimizer

import "github.com/mfallas/mpcdispatch/core/model"

// fallbackSolution returns the conservative dispatch applied whenever the
// solve fails: no battery action, SoC held flat and the grid covering net
// demand. Costs are an estimate at the average of the three band prices
// plus the peak-period demand rate, not a recomputation through the tariff
// model. Pure arithmetic; this path never fails.
func (e *Engine) fallbackSolution(socNow float64, load, solar []float64) model.OptimizationResult {
	n := e.params.Steps
	dt := e.params.StepHours

	res := model.OptimizationResult{
		Status:           model.StatusFallback,
		BatteryPowerKW:   make([]float64, n),
		GridPowerKW:      make([]float64, n),
		ChargePowerKW:    make([]float64, n),
		DischargePowerKW: make([]float64, n),
		SoC:              make([]float64, n+1),
	}

	var gridTotal float64
	for t := 0; t < n; t++ {
		net := load[t] - solar[t]
		if net < 0 {
			net = 0 // export stays disallowed even in fallback
		}
		res.GridPowerKW[t] = net
		gridTotal += net
		if net > res.PeakDemandKW {
			res.PeakDemandKW = net
		}
	}
	for k := 0; k <= n; k++ {
		res.SoC[k] = socNow
	}

	res.EnergyCost = gridTotal * dt * e.tariff.AveragePrice()
	res.DemandCost = res.PeakDemandKW * e.tariff.PeakDemandRate * dt
	res.TotalCost = res.EnergyCost + res.DemandCost
	return res
}
