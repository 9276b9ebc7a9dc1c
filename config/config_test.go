package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalJSON = `{
  "service": {"api_addr": ":8080", "interval_minutes": 5},
  "battery": {"capacity_kwh": 150, "max_power_kw": 75, "round_trip_efficiency": 0.92,
              "soc_min": 0.2, "soc_max": 0.8, "initial_soc": 0.5},
  "horizon": {"horizon_hours": 12, "step_minutes": 30},
  "reporter": {"base_url": "http://reporter:9000", "auth_token": "tok"},
  "bms": {"base_url": "http://bms:9001"}
}`

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Service.APIAddr)
	assert.Equal(t, 5, cfg.Service.IntervalMinutes)
	assert.Equal(t, 150.0, cfg.Battery.CapacityKWh)
	assert.Equal(t, 24, cfg.Horizon.NumSteps())
	assert.Equal(t, 0.5, cfg.Horizon.StepHours())
	assert.Equal(t, "http://reporter:9000", cfg.Reporter.BaseURL)
	assert.Equal(t, "http://bms:9001", cfg.BMS.BaseURL)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", `
service:
  interval_minutes: 15
battery:
  capacity_kwh: 200
horizon:
  horizon_hours: 24
  step_minutes: 15
tariff:
  peak: {start_hour: 18, end_hour: 21}
  valley: {start_hour: 12, end_hour: 16}
  peak_energy_price: 0.30
  valley_energy_price: 0.08
  night_energy_price: 0.15
  peak_demand_rate: 15
  valley_demand_rate: 5
  night_demand_rate: 10
`))
	require.NoError(t, err)
	assert.Equal(t, 96, cfg.Horizon.NumSteps())
	assert.Equal(t, 0.30, cfg.Tariff.PeakEnergyPrice)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Service.APIAddr)
	assert.Equal(t, 15, cfg.Service.IntervalMinutes)
	assert.Equal(t, 200.0, cfg.Service.FallbackLoadKW)
	assert.Equal(t, 0.5, cfg.Battery.InitialSoC)
	assert.Equal(t, 96, cfg.Horizon.NumSteps())
	assert.Equal(t, 18, cfg.Tariff.Peak.StartHour)
	assert.Equal(t, ":9090", cfg.Metrics.PrometheusAddr)
	assert.Equal(t, "mpc/command", cfg.MQTT.CommandTopic)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MPC_SERVICE__API_ADDR", ":9999")
	t.Setenv("MPC_REPORTER__AUTH_TOKEN", "secret")

	cfg, err := Load(writeConfig(t, "config.json", minimalJSON))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Service.APIAddr)
	assert.Equal(t, "secret", cfg.Reporter.AuthToken)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", `x = 1`))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "config.json", `{
		"battery": {"soc_min": 0.8, "soc_max": 0.3, "initial_soc": 0.5}
	}`))
	assert.Error(t, err, "inverted soc bounds")

	_, err = Load(writeConfig(t, "config.json", `{
		"battery": {"initial_soc": 0.95}
	}`))
	assert.Error(t, err, "initial soc outside bounds")

	_, err = Load(writeConfig(t, "config.json", `{
		"tariff": {"peak": {"start_hour": 21, "end_hour": 18},
		           "valley": {"start_hour": 12, "end_hour": 16},
		           "peak_energy_price": 1}
	}`))
	assert.Error(t, err, "empty peak band")
}

func TestHorizonParameters(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", minimalJSON))
	require.NoError(t, err)

	p := cfg.HorizonParameters()
	assert.Equal(t, 24, p.Steps)
	assert.Equal(t, 0.5, p.StepHours)
	assert.Equal(t, 150.0, p.CapacityKWh)
	assert.Equal(t, 0.92, p.RoundTripEff)
	require.NoError(t, p.Validate())
}
