package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/mfallas/mpcdispatch/core/metrics"
)

// PromSink records optimization cycles in Prometheus metrics.
type PromSink struct {
	cycles    *prometheus.CounterVec
	commands  *prometheus.CounterVec
	solveTime prometheus.Histogram
	soc       prometheus.Gauge
	power     prometheus.Gauge
	peak      prometheus.Gauge
	cost      prometheus.Gauge
}

// NewPromSink registers cycle metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusAddr.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// register adds c to the registry, reusing the existing collector when one
// with the same descriptor is already registered.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_cycles_total",
		Help: "Total number of optimization cycles by outcome",
	}, []string{"status", "degraded"})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_commands_total",
		Help: "Total number of dispatch commands by delivery outcome",
	}, []string{"status", "delivered"})
	solveTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mpc_solve_seconds",
		Help:    "Wall time of one horizon solve",
		Buckets: prometheus.DefBuckets,
	})
	soc := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mpc_predicted_soc",
		Help: "One-step-ahead state of charge prediction",
	})
	power := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mpc_battery_power_kw",
		Help: "First-step battery power command, positive = charge",
	})
	peak := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mpc_peak_demand_kw",
		Help: "Planned peak grid demand over the horizon",
	})
	cost := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mpc_horizon_cost",
		Help: "Total planned cost over the horizon",
	})

	s := &PromSink{}
	c, err := register(reg, cycles)
	if err != nil {
		return nil, err
	}
	s.cycles = c.(*prometheus.CounterVec)
	c, err = register(reg, commands)
	if err != nil {
		return nil, err
	}
	s.commands = c.(*prometheus.CounterVec)
	c, err = register(reg, solveTime)
	if err != nil {
		return nil, err
	}
	s.solveTime = c.(prometheus.Histogram)
	c, err = register(reg, soc)
	if err != nil {
		return nil, err
	}
	s.soc = c.(prometheus.Gauge)
	c, err = register(reg, power)
	if err != nil {
		return nil, err
	}
	s.power = c.(prometheus.Gauge)
	c, err = register(reg, peak)
	if err != nil {
		return nil, err
	}
	s.peak = c.(prometheus.Gauge)
	c, err = register(reg, cost)
	if err != nil {
		return nil, err
	}
	s.cost = c.(prometheus.Gauge)
	return s, nil
}

// RecordCycle updates the cycle counter, solve time histogram and gauges.
func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	s.cycles.WithLabelValues(ev.Status.String(), strconv.FormatBool(ev.Degraded)).Inc()
	s.solveTime.Observe(ev.SolveTime.Seconds())
	s.soc.Set(ev.SoC)
	s.power.Set(ev.BatteryPowerKW)
	s.peak.Set(ev.PeakDemandKW)
	s.cost.Set(ev.TotalCost)
	return nil
}

// RecordCommand counts dispatched commands by delivery outcome.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.Status.String(), strconv.FormatBool(ev.Delivered)).Inc()
	return nil
}
