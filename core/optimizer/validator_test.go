package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfallas/mpcdispatch/core/model"
)

func validResult(n int, soc float64) model.OptimizationResult {
	res := model.OptimizationResult{
		Status:         model.StatusOptimal,
		BatteryPowerKW: make([]float64, n),
		GridPowerKW:    make([]float64, n),
		SoC:            make([]float64, n+1),
	}
	for k := range res.SoC {
		res.SoC[k] = soc
	}
	return res
}

func TestValidatorAccepts(t *testing.T) {
	params := testParams(4)
	v := NewValidator(params)

	res := validResult(4, 0.5)
	require.NoError(t, v.Validate(&res))

	// Exactly at the power limit is still valid.
	res.BatteryPowerKW[2] = params.MaxPowerKW
	res.BatteryPowerKW[3] = -params.MaxPowerKW
	assert.NoError(t, v.Validate(&res))

	// Fallback results pass the same checks.
	res = validResult(4, 0.5)
	res.Status = model.StatusFallback
	assert.NoError(t, v.Validate(&res))

	// Violations inside the tolerance are absorbed.
	res = validResult(4, 0.5)
	res.SoC[1] = params.SoCMax + Tolerance/2
	assert.NoError(t, v.Validate(&res))
}

func TestValidatorRejects(t *testing.T) {
	params := testParams(4)
	v := NewValidator(params)

	res := validResult(4, 0.5)
	res.Status = model.StatusError
	assert.Error(t, v.Validate(&res), "error results are never dispatchable")

	res = validResult(3, 0.5)
	assert.Error(t, v.Validate(&res), "short schedules")

	res = validResult(4, 0.5)
	res.SoC = res.SoC[:4]
	assert.Error(t, v.Validate(&res), "soc must have n+1 entries")

	res = validResult(4, 0.5)
	res.BatteryPowerKW[1] = params.MaxPowerKW + 1e-5
	assert.Error(t, v.Validate(&res), "power above limit plus tolerance")

	res = validResult(4, 0.5)
	res.BatteryPowerKW[1] = -(params.MaxPowerKW + 1e-5)
	assert.Error(t, v.Validate(&res), "discharge above limit")

	res = validResult(4, 0.5)
	res.SoC[2] = params.SoCMin - 1e-3
	assert.Error(t, v.Validate(&res), "soc below floor")

	res = validResult(4, 0.5)
	res.SoC[4] = params.SoCMax + 1e-3
	assert.Error(t, v.Validate(&res), "terminal soc above ceiling")

	res = validResult(4, 0.5)
	res.GridPowerKW[0] = -1e-3
	assert.Error(t, v.Validate(&res), "negative grid import")
}
