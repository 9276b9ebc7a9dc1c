package optimizer

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/core/tariff"
	"github.com/mfallas/mpcdispatch/infra/logger"
)

func testParams(steps int) model.HorizonParameters {
	return model.HorizonParameters{
		Steps:        steps,
		StepHours:    0.25,
		CapacityKWh:  100,
		MaxPowerKW:   50,
		RoundTripEff: 0.9,
		SoCMin:       0.1,
		SoCMax:       0.9,
	}
}

func flatTariff(price float64) tariff.Schedule {
	return tariff.Schedule{
		Peak:              tariff.Band{StartHour: 18, EndHour: 21},
		Valley:            tariff.Band{StartHour: 12, EndHour: 16},
		PeakEnergyPrice:   price,
		ValleyEnergyPrice: price,
		NightEnergyPrice:  price,
	}
}

func touTariff() tariff.Schedule {
	return tariff.Schedule{
		Peak:              tariff.Band{StartHour: 18, EndHour: 21},
		Valley:            tariff.Band{StartHour: 0, EndHour: 6},
		PeakEnergyPrice:   0.40,
		ValleyEnergyPrice: 0.05,
		NightEnergyPrice:  0.15,
		PeakDemandRate:    15,
		ValleyDemandRate:  5,
		NightDemandRate:   10,
	}
}

func horizon(start time.Time, n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * 15 * time.Minute)
	}
	return ts
}

func repeat(v float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestNewRejectsBadInputs(t *testing.T) {
	_, err := New(model.HorizonParameters{}, flatTariff(1), logger.NopLogger{})
	assert.Error(t, err)

	bad := flatTariff(1)
	bad.Peak = tariff.Band{StartHour: 21, EndHour: 18}
	_, err = New(testParams(4), bad, logger.NopLogger{})
	assert.Error(t, err)
}

func TestOptimizeInputLength(t *testing.T) {
	e, err := New(testParams(4), flatTariff(1), logger.NopLogger{})
	require.NoError(t, err)

	now := time.Now()
	_, err = e.Optimize(0.5, repeat(100, 3), repeat(0, 4), horizon(now, 4))
	assert.ErrorIs(t, err, ErrInputLength)
	_, err = e.Optimize(0.5, repeat(100, 4), repeat(0, 5), horizon(now, 4))
	assert.ErrorIs(t, err, ErrInputLength)
	_, err = e.Optimize(0.5, repeat(100, 4), repeat(0, 4), horizon(now, 3))
	assert.ErrorIs(t, err, ErrInputLength)
}

// With a flat price and no demand charge the battery cannot save anything:
// losses make any action strictly wasteful, so the grid simply follows load.
func TestOptimizeFlatPrice(t *testing.T) {
	e, err := New(testParams(4), flatTariff(1.0), logger.NopLogger{})
	require.NoError(t, err)

	load := repeat(100, 4)
	res, err := e.Optimize(0.5, load, repeat(0, 4), horizon(time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC), 4))
	require.NoError(t, err)

	assert.Equal(t, model.StatusOptimal, res.Status)
	for t2 := 0; t2 < 4; t2++ {
		assert.InDelta(t, 100.0, res.GridPowerKW[t2], 1e-6)
		assert.InDelta(t, 0.0, res.BatteryPowerKW[t2], 1e-6)
	}
	// 4 steps * 100 kW * 0.25 h * 1.0/kWh
	assert.InDelta(t, 100.0, res.TotalCost, 1e-6)
	assert.InDelta(t, 100.0, res.EnergyCost, 1e-6)
	assert.InDelta(t, 0.0, res.DemandCost, 1e-6)
	assert.InDelta(t, 0.5, res.SoC[0], 0)
}

// A full battery ahead of an expensive peak: the optimizer should discharge
// into the peak and beat the do-nothing cost.
func TestOptimizeArbitrage(t *testing.T) {
	n := 16
	params := testParams(n)
	e, err := New(params, touTariff(), logger.NopLogger{})
	require.NoError(t, err)

	// Horizon starts 17:00 so steps 4..15 fall in the 18-21 peak band.
	start := time.Date(2026, 8, 20, 17, 0, 0, 0, time.UTC)
	load := repeat(80, n)
	solar := repeat(0, n)

	stamps := horizon(start, n)
	res, err := e.Optimize(0.9, load, solar, stamps)
	require.NoError(t, err)
	require.Equal(t, model.StatusOptimal, res.Status)

	// Do-nothing cost under the same tariff: grid follows load, peak = load.
	var baseline float64
	for i, price := range touTariff().PriceSeries(stamps) {
		baseline += price * load[i] * params.StepHours
	}
	baseline += touTariff().DemandRate(start.Hour()) * load[0] * params.StepHours
	assert.Less(t, res.TotalCost, baseline,
		"discharging stored energy into the peak must beat doing nothing")

	v := NewValidator(params)
	assert.NoError(t, v.Validate(&res))
}

// The SoC trajectory must follow the efficiency-split dynamics exactly.
func TestOptimizeSoCDynamics(t *testing.T) {
	n := 8
	params := testParams(n)
	e, err := New(params, touTariff(), logger.NopLogger{})
	require.NoError(t, err)

	start := time.Date(2026, 8, 20, 17, 0, 0, 0, time.UTC)
	res, err := e.Optimize(0.5, repeat(60, n), repeat(10, n), horizon(start, n))
	require.NoError(t, err)
	require.Equal(t, model.StatusOptimal, res.Status)

	etaC := params.EtaCharge()
	etaD := params.EtaDischarge()
	dt := params.StepHours
	for t2 := 0; t2 < n; t2++ {
		want := res.SoC[t2] +
			etaC*res.ChargePowerKW[t2]*dt/params.CapacityKWh -
			res.DischargePowerKW[t2]*dt/(etaD*params.CapacityKWh)
		assert.InDelta(t, want, res.SoC[t2+1], 1e-6, "step %d", t2)
		assert.InDelta(t, res.ChargePowerKW[t2]-res.DischargePowerKW[t2], res.BatteryPowerKW[t2], 1e-6)
		// Power balance: the grid covers net load plus whatever the
		// battery charges (and less whatever it discharges).
		assert.InDelta(t, 60.0-10.0, res.GridPowerKW[t2]-res.BatteryPowerKW[t2], 1e-6)
	}
	// Peak variable must dominate every grid step.
	for t2 := 0; t2 < n; t2++ {
		assert.LessOrEqual(t, res.GridPowerKW[t2], res.PeakDemandKW+1e-6)
	}
}

func TestOptimizeSolverFailureFallsBack(t *testing.T) {
	orig := lpSolve
	lpSolve = func([]float64, *mat.Dense, []float64, *mat.Dense, []float64) (float64, []float64, error) {
		return 0, nil, errors.New("simulated solver failure")
	}
	defer func() { lpSolve = orig }()

	n := 4
	e, err := New(testParams(n), touTariff(), logger.NopLogger{})
	require.NoError(t, err)

	load := []float64{100, 120, 80, 90}
	solar := []float64{0, 150, 20, 0}
	res, err := e.Optimize(0.4, load, solar, horizon(time.Now(), n))
	require.NoError(t, err, "solver failure must not surface as an error")

	assert.Equal(t, model.StatusFallback, res.Status)
	for t2 := 0; t2 < n; t2++ {
		assert.Zero(t, res.BatteryPowerKW[t2])
		assert.Equal(t, math.Max(load[t2]-solar[t2], 0), res.GridPowerKW[t2])
		assert.Equal(t, 0.4, res.SoC[t2])
	}
	assert.Equal(t, 0.4, res.SoC[n])
	assert.Equal(t, 100.0, res.PeakDemandKW, "excess solar never exports")
}

func TestFallbackDeterministic(t *testing.T) {
	e, err := New(testParams(4), touTariff(), logger.NopLogger{})
	require.NoError(t, err)

	load := []float64{100, 120, 80, 90}
	solar := []float64{10, 0, 30, 5}
	a := e.fallbackSolution(0.5, load, solar)
	b := e.fallbackSolution(0.5, load, solar)
	assert.Equal(t, a, b, "fallback is pure arithmetic")

	// Cost model: flat average price plus the peak-period demand rate.
	sched := touTariff()
	var gridTotal, peak float64
	for i := range load {
		net := load[i] - solar[i]
		gridTotal += net
		if net > peak {
			peak = net
		}
	}
	assert.InDelta(t, gridTotal*0.25*sched.AveragePrice(), a.EnergyCost, 1e-9)
	assert.InDelta(t, peak*sched.PeakDemandRate*0.25, a.DemandCost, 1e-9)
	assert.InDelta(t, a.EnergyCost+a.DemandCost, a.TotalCost, 1e-9)
}
