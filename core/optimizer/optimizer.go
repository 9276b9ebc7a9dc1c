// Package optimizer solves the receding-horizon battery dispatch problem.
// Each solve minimizes energy plus demand charges over the horizon as a
// linear program; any solver failure degrades to a conservative
// zero-battery fallback rather than an error.
package optimizer

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/mfallas/mpcdispatch/core/logger"
	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/core/tariff"
)

// ErrInputLength indicates a forecast or timestamp slice does not match the
// horizon length. This is a caller bug and is reported before any solve.
var ErrInputLength = errors.New("input length mismatch")

// Engine builds and solves the dispatch linear program for one horizon.
type Engine struct {
	params model.HorizonParameters
	tariff tariff.Schedule
	log    logger.Logger
}

// New creates an Engine after validating the horizon and tariff.
func New(params model.HorizonParameters, sched tariff.Schedule, log logger.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("horizon parameters: %w", err)
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("tariff schedule: %w", err)
	}
	return &Engine{params: params, tariff: sched, log: log}, nil
}

// Params returns the horizon parameters the engine was built with.
func (e *Engine) Params() model.HorizonParameters { return e.params }

// Optimize solves the dispatch problem for the given starting state of
// charge and forecasts. The returned error is non-nil only for the input
// length precondition; solver failures yield a Fallback-tagged result.
func (e *Engine) Optimize(socNow float64, load, solar []float64, timestamps []time.Time) (model.OptimizationResult, error) {
	n := e.params.Steps
	if len(load) != n {
		return model.OptimizationResult{}, fmt.Errorf("%w: load has %d steps, want %d", ErrInputLength, len(load), n)
	}
	if len(solar) != n {
		return model.OptimizationResult{}, fmt.Errorf("%w: solar has %d steps, want %d", ErrInputLength, len(solar), n)
	}
	if len(timestamps) != n {
		return model.OptimizationResult{}, fmt.Errorf("%w: timestamps has %d steps, want %d", ErrInputLength, len(timestamps), n)
	}

	start := time.Now()
	prices := e.tariff.PriceSeries(timestamps)
	// The first timestamp's hour decides the demand rate for the whole
	// horizon. Known simplification, kept on purpose.
	demandRate := e.tariff.DemandRate(timestamps[0].Hour())

	c, g, h, a, b := e.buildProblem(socNow, load, solar, prices, demandRate)
	opt, x, err := lpSolve(c, g, h, a, b)
	if err != nil {
		e.log.Warnf("solver failed, using fallback: %v", err)
		res := e.fallbackSolution(socNow, load, solar)
		res.SolveTime = time.Since(start)
		return res, nil
	}

	res := e.extract(x, socNow, prices, demandRate, opt)
	res.SolveTime = time.Since(start)
	e.log.Infof("optimal dispatch: cost=%.2f (energy=%.2f demand=%.2f) first step %.2f kW, solve %s",
		res.TotalCost, res.EnergyCost, res.DemandCost, res.BatteryPowerKW[0], res.SolveTime)
	return res, nil
}

// Variable layout of the general-form LP for a horizon of n steps:
//
//	[0,n)    battery net power, signed (+ charge)
//	[n,2n)   grid import
//	[2n,3n)  charge power
//	[3n,4n)  discharge power
//	[4n,5n]  state of charge, n+1 entries
//	5n+1     peak demand
func (e *Engine) buildProblem(socNow float64, load, solar, prices []float64, demandRate float64) ([]float64, *mat.Dense, []float64, *mat.Dense, []float64) {
	n := e.params.Steps
	dt := e.params.StepHours
	nv := 5*n + 2
	pb := func(t int) int { return t }
	pg := func(t int) int { return n + t }
	pc := func(t int) int { return 2*n + t }
	pd := func(t int) int { return 3*n + t }
	soc := func(k int) int { return 4*n + k }
	peak := 5*n + 1

	c := make([]float64, nv)
	for t := 0; t < n; t++ {
		c[pg(t)] = prices[t] * dt
	}
	c[peak] = demandRate * dt

	// Equality constraints: initial SoC, power balance, charge/discharge
	// decomposition and SoC dynamics.
	a := mat.NewDense(3*n+1, nv, nil)
	b := make([]float64, 3*n+1)
	row := 0
	a.Set(row, soc(0), 1)
	b[row] = socNow
	row++

	etaC := e.params.EtaCharge()
	etaD := e.params.EtaDischarge()
	capacity := e.params.CapacityKWh
	for t := 0; t < n; t++ {
		// P_grid - P_batt = load - solar: charging draws from the grid,
		// discharging serves the load. No export modeled.
		a.Set(row, pg(t), 1)
		a.Set(row, pb(t), -1)
		b[row] = load[t] - solar[t]
		row++
		// P_batt = P_chg - P_dis
		a.Set(row, pb(t), 1)
		a.Set(row, pc(t), -1)
		a.Set(row, pd(t), 1)
		row++
		// SOC[t+1] = SOC[t] + etaC*P_chg*dt/cap - P_dis*dt/(etaD*cap)
		a.Set(row, soc(t+1), 1)
		a.Set(row, soc(t), -1)
		a.Set(row, pc(t), -etaC*dt/capacity)
		a.Set(row, pd(t), dt/(etaD*capacity))
		row++
	}

	// Inequality constraints G*x <= h: SoC bounds over the whole
	// trajectory including the terminal step, power limits, grid
	// non-negativity and the peak demand ceiling.
	g := mat.NewDense(10*n+3, nv, nil)
	h := make([]float64, 10*n+3)
	row = 0
	pmax := e.params.MaxPowerKW
	for k := 0; k <= n; k++ {
		g.Set(row, soc(k), 1)
		h[row] = e.params.SoCMax
		row++
		g.Set(row, soc(k), -1)
		h[row] = -e.params.SoCMin
		row++
	}
	for t := 0; t < n; t++ {
		g.Set(row, pb(t), 1)
		h[row] = pmax
		row++
		g.Set(row, pb(t), -1)
		h[row] = pmax
		row++
		g.Set(row, pc(t), 1)
		h[row] = pmax
		row++
		g.Set(row, pc(t), -1)
		row++
		g.Set(row, pd(t), 1)
		h[row] = pmax
		row++
		g.Set(row, pd(t), -1)
		row++
		g.Set(row, pg(t), -1)
		row++
		g.Set(row, pg(t), 1)
		g.Set(row, peak, -1)
		row++
	}
	g.Set(row, peak, -1)

	return c, g, h, a, b
}

// extract populates a result from the recovered general-form solution.
func (e *Engine) extract(x []float64, socNow float64, prices []float64, demandRate, objective float64) model.OptimizationResult {
	n := e.params.Steps
	dt := e.params.StepHours
	res := model.OptimizationResult{
		Status:           model.StatusOptimal,
		BatteryPowerKW:   x[0:n:n],
		GridPowerKW:      x[n : 2*n : 2*n],
		ChargePowerKW:    x[2*n : 3*n : 3*n],
		DischargePowerKW: x[3*n : 4*n : 4*n],
		SoC:              x[4*n : 5*n+1 : 5*n+1],
		PeakDemandKW:     x[5*n+1],
		TotalCost:        objective,
	}
	// Constraint 1 pins the initial state; remove solver noise there.
	res.SoC[0] = socNow
	for t := 0; t < n; t++ {
		res.EnergyCost += prices[t] * res.GridPowerKW[t] * dt
	}
	res.DemandCost = demandRate * res.PeakDemandKW * dt
	return res
}

// solveLP converts the general-form program to standard form and runs the
// simplex method. Convert splits every free variable into positive and
// negative parts, so the original variables are recovered as the
// difference of the two halves.
func solveLP(c []float64, g *mat.Dense, h []float64, a *mat.Dense, b []float64) (float64, []float64, error) {
	cStd, aStd, bStd := lp.Convert(c, g, h, a, b)
	opt, sol, err := lp.Simplex(cStd, aStd, bStd, 1e-7, nil)
	if err != nil {
		return 0, nil, err
	}
	x := make([]float64, len(c))
	for i := range x {
		x[i] = sol[i] - sol[len(c)+i]
	}
	return opt, x, nil
}

// lpSolve points to the function used to solve the LP. It can be overridden
// in tests to simulate solver failures.
var lpSolve = solveLP
