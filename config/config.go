// Package config loads the service configuration from a JSON or YAML file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mfallas/mpcdispatch/core/metrics"
	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/core/tariff"
	"github.com/mfallas/mpcdispatch/infra/battery"
	"github.com/mfallas/mpcdispatch/infra/forecast"
	"github.com/mfallas/mpcdispatch/infra/mqtt"
)

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig   `json:"service"`
	Battery  BatteryConfig   `json:"battery"`
	Horizon  HorizonConfig   `json:"horizon"`
	Tariff   tariff.Schedule `json:"tariff"`
	Reporter forecast.Config `json:"reporter"`
	BMS      battery.Config  `json:"bms"`
	Metrics  metrics.Config  `json:"metrics"`
	MQTT     mqtt.Config     `json:"mqtt"`
}

// ServiceConfig defines the controller loop and API surface.
type ServiceConfig struct {
	APIAddr             string  `json:"api_addr"`
	IntervalMinutes     int     `json:"interval_minutes"`
	CycleTimeoutSeconds int     `json:"cycle_timeout_seconds"`
	FallbackLoadKW      float64 `json:"fallback_load_kw"`
	StrictValidation    bool    `json:"strict_validation"`
}

// SetDefaults applies sane defaults.
func (c *ServiceConfig) SetDefaults() {
	if c.APIAddr == "" {
		c.APIAddr = ":8000"
	}
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 15
	}
	if c.FallbackLoadKW == 0 {
		c.FallbackLoadKW = 200
	}
}

// Interval returns the re-optimization period.
func (c ServiceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// CycleTimeout returns the per-cycle deadline; zero means the controller
// defaults it to the interval.
func (c ServiceConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSeconds) * time.Second
}

// BatteryConfig describes the physical battery.
type BatteryConfig struct {
	CapacityKWh         float64 `json:"capacity_kwh"`
	MaxPowerKW          float64 `json:"max_power_kw"`
	RoundTripEfficiency float64 `json:"round_trip_efficiency"`
	SoCMin              float64 `json:"soc_min"`
	SoCMax              float64 `json:"soc_max"`
	InitialSoC          float64 `json:"initial_soc"`
}

// SetDefaults applies sane defaults.
func (c *BatteryConfig) SetDefaults() {
	if c.CapacityKWh == 0 {
		c.CapacityKWh = 200
	}
	if c.MaxPowerKW == 0 {
		c.MaxPowerKW = 100
	}
	if c.RoundTripEfficiency == 0 {
		c.RoundTripEfficiency = 0.9
	}
	if c.SoCMin == 0 {
		c.SoCMin = 0.1
	}
	if c.SoCMax == 0 {
		c.SoCMax = 0.9
	}
	if c.InitialSoC == 0 {
		c.InitialSoC = 0.5
	}
}

// HorizonConfig describes the optimization horizon.
type HorizonConfig struct {
	HorizonHours float64 `json:"horizon_hours"`
	StepMinutes  int     `json:"step_minutes"`
}

// SetDefaults applies sane defaults.
func (c *HorizonConfig) SetDefaults() {
	if c.HorizonHours == 0 {
		c.HorizonHours = 24
	}
	if c.StepMinutes <= 0 {
		c.StepMinutes = 15
	}
}

// NumSteps returns the number of horizon steps.
func (c HorizonConfig) NumSteps() int {
	return int(c.HorizonHours * 60 / float64(c.StepMinutes))
}

// StepHours returns the step duration in hours.
func (c HorizonConfig) StepHours() float64 {
	return float64(c.StepMinutes) / 60
}

// Step returns the step duration.
func (c HorizonConfig) Step() time.Duration {
	return time.Duration(c.StepMinutes) * time.Minute
}

// HorizonParameters assembles the solver parameters from the battery and
// horizon sections.
func (c *Config) HorizonParameters() model.HorizonParameters {
	return model.HorizonParameters{
		Steps:        c.Horizon.NumSteps(),
		StepHours:    c.Horizon.StepHours(),
		CapacityKWh:  c.Battery.CapacityKWh,
		MaxPowerKW:   c.Battery.MaxPowerKW,
		RoundTripEff: c.Battery.RoundTripEfficiency,
		SoCMin:       c.Battery.SoCMin,
		SoCMax:       c.Battery.SoCMax,
	}
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Service.SetDefaults()
	c.Battery.SetDefaults()
	c.Horizon.SetDefaults()
	c.Reporter.SetDefaults()
	c.BMS.SetDefaults()
	c.Metrics.SetDefaults()
	c.MQTT.SetDefaults()
	if c.Tariff == (tariff.Schedule{}) {
		c.Tariff = tariff.Schedule{
			Peak:              tariff.Band{StartHour: 18, EndHour: 21},
			Valley:            tariff.Band{StartHour: 12, EndHour: 16},
			PeakEnergyPrice:   0.30,
			ValleyEnergyPrice: 0.08,
			NightEnergyPrice:  0.15,
			PeakDemandRate:    15,
			ValleyDemandRate:  5,
			NightDemandRate:   10,
		}
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := c.HorizonParameters().Validate(); err != nil {
		return fmt.Errorf("battery/horizon: %w", err)
	}
	if err := c.Tariff.Validate(); err != nil {
		return fmt.Errorf("tariff: %w", err)
	}
	if c.Battery.InitialSoC < c.Battery.SoCMin || c.Battery.InitialSoC > c.Battery.SoCMax {
		return fmt.Errorf("initial soc %v outside [%v,%v]", c.Battery.InitialSoC, c.Battery.SoCMin, c.Battery.SoCMax)
	}
	return nil
}

// Load reads the configuration file and applies MPC_-prefixed environment
// overrides (double underscore separates nesting levels, e.g.
// MPC_SERVICE__API_ADDR).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// The callback emits dot-separated keys, so the provider delimiter
	// must be "." for the overrides to land in the nested sections.
	if err := k.Load(env.Provider("MPC_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "mpc_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
