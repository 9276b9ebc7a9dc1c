package metrics

import (
	"time"

	"github.com/mfallas/mpcdispatch/core/model"
)

// CycleEvent summarizes one completed optimization cycle.
type CycleEvent struct {
	CycleID        string
	Status         model.ResultStatus
	Degraded       bool // fallback inputs were substituted during the fetch stage
	SolveTime      time.Duration
	TotalCost      float64
	EnergyCost     float64
	DemandCost     float64
	PeakDemandKW   float64
	BatteryPowerKW float64
	SoC            float64
	Time           time.Time
}

// CommandEvent records a dispatch command being pushed to the battery.
type CommandEvent struct {
	CommandID string
	PowerKW   float64
	Status    model.ResultStatus
	Delivered bool
	Time      time.Time
}

// MetricsSink receives cycle summaries from the controller.
type MetricsSink interface {
	RecordCycle(CycleEvent) error
}

// CommandRecorder is implemented by sinks that also track command delivery.
type CommandRecorder interface {
	RecordCommand(CommandEvent) error
}

// NopSink discards all events.
type NopSink struct{}

// RecordCycle implements MetricsSink.
func (NopSink) RecordCycle(CycleEvent) error { return nil }

// RecordCommand implements CommandRecorder.
func (NopSink) RecordCommand(CommandEvent) error { return nil }

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusAddr    string `json:"prometheus_addr"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusAddr == "" {
		c.PrometheusAddr = ":9090"
	}
}
