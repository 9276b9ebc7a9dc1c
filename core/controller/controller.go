// Package controller drives the receding-horizon dispatch loop: every
// interval it pulls the current state of charge and forecasts, solves the
// horizon, validates the result, dispatches the first-step command and
// publishes the full schedule.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mfallas/mpcdispatch/core/logger"
	"github.com/mfallas/mpcdispatch/core/metrics"
	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/core/optimizer"
)

// ErrCycleInFlight is returned when a trigger arrives while another cycle
// is still running. Overlapping triggers are dropped, never queued.
var ErrCycleInFlight = errors.New("optimization cycle already in flight")

// ForecastSource supplies load and solar forecasts covering the horizon.
type ForecastSource interface {
	FetchLoad(ctx context.Context) (model.Series, error)
	FetchSolar(ctx context.Context) (model.Series, error)
}

// BatterySource reads the current state of charge, in [0,1].
type BatterySource interface {
	ReadSoC(ctx context.Context) (float64, error)
}

// CommandSink delivers the first-step battery power command.
type CommandSink interface {
	SendCommand(ctx context.Context, commandID string, powerKW float64, ts time.Time) error
}

// SchedulePublisher receives the command and full schedule after each
// cycle. Publishing is best-effort; failures are logged only.
type SchedulePublisher interface {
	PublishCommand(model.DispatchCommand) error
	PublishSchedule(model.Schedule) error
}

// Config defines the controller loop parameters.
type Config struct {
	Interval       time.Duration
	CycleTimeout   time.Duration // bounds one cycle so a slow solve cannot starve the next tick
	InitialSoC     float64
	FallbackLoadKW float64
	// StrictValidation turns a validator rejection into an error-tagged
	// zero-power command instead of dispatching the suspect solution.
	StrictValidation bool
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.FallbackLoadKW == 0 {
		c.FallbackLoadKW = 200
	}
	if c.CycleTimeout == 0 {
		c.CycleTimeout = c.Interval
	}
}

// Controller owns the persistent dispatch state and runs cycles one at a
// time. State is mutated only at the end of a cycle; readers get a
// consistent snapshot through Snapshot.
type Controller struct {
	cfg       Config
	engine    *optimizer.Engine
	validator optimizer.Validator
	forecasts ForecastSource
	battery   BatterySource
	sink      CommandSink
	publisher SchedulePublisher
	metrics   metrics.MetricsSink
	log       logger.Logger
	now       func() time.Time

	cycleMu sync.Mutex // single-flight guard, held for the whole cycle

	stateMu  sync.RWMutex // guards the fields below, held only for the swap
	state    model.ControllerState
	result   *model.OptimizationResult
	command  *model.DispatchCommand
	schedule *model.Schedule
}

// Snapshot is a consistent read of the controller's published state.
type Snapshot struct {
	State    model.ControllerState
	Result   *model.OptimizationResult
	Command  *model.DispatchCommand
	Schedule *model.Schedule
}

// New creates a Controller. The publisher may be nil; a nil metrics sink
// defaults to a no-op.
func New(cfg Config, engine *optimizer.Engine, forecasts ForecastSource, battery BatterySource, sink CommandSink, publisher SchedulePublisher, sinkMetrics metrics.MetricsSink, log logger.Logger) (*Controller, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if forecasts == nil || battery == nil || sink == nil {
		return nil, errors.New("forecast source, battery source and command sink are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	cfg.SetDefaults()
	if sinkMetrics == nil {
		sinkMetrics = metrics.NopSink{}
	}
	return &Controller{
		cfg:       cfg,
		engine:    engine,
		validator: optimizer.NewValidator(engine.Params()),
		forecasts: forecasts,
		battery:   battery,
		sink:      sink,
		publisher: publisher,
		metrics:   sinkMetrics,
		log:       log,
		now:       time.Now,
		state:     model.ControllerState{CurrentSoC: cfg.InitialSoC},
	}, nil
}

// Snapshot returns the state as of the last completed cycle. Schedules and
// results are copies; callers may retain them freely.
func (c *Controller) Snapshot() Snapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	s := Snapshot{State: c.state}
	if c.result != nil {
		r := c.result.Clone()
		s.Result = &r
	}
	if c.command != nil {
		cmd := *c.command
		s.Command = &cmd
	}
	if c.schedule != nil {
		sched := c.schedule.Clone()
		s.Schedule = &sched
	}
	return s
}

// Run executes one immediate cycle and then re-optimizes on every tick
// until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.runScheduled(ctx)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.runScheduled(ctx)
		}
	}
}

func (c *Controller) runScheduled(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()
	if _, err := c.RunCycle(cctx); errors.Is(err, ErrCycleInFlight) {
		c.log.Warnf("previous cycle still running, skipping tick")
	}
}

// RunCycle executes one optimization cycle. It returns ErrCycleInFlight
// without running anything when another cycle holds the single-flight lock.
func (c *Controller) RunCycle(ctx context.Context) (model.DispatchCommand, error) {
	if !c.cycleMu.TryLock() {
		return model.DispatchCommand{}, ErrCycleInFlight
	}
	defer c.cycleMu.Unlock()
	return c.cycle(ctx), nil
}

type cycleInputs struct {
	soc      float64
	forecast model.ForecastSeries
	degraded bool
}

func (c *Controller) cycle(ctx context.Context) model.DispatchCommand {
	now := c.now()
	cycleID := uuid.NewString()
	c.log.Infof("starting optimization cycle %s", cycleID)

	in := c.fetchInputs(ctx, now)
	if ctx.Err() != nil {
		// Aborted before the solve stage: SoC and cycle count stay
		// untouched, only the attempt timestamp moves.
		c.log.Errorf("cycle %s aborted before solve: %v", cycleID, ctx.Err())
		return c.finish(cycleID, now, false)
	}

	res, err := c.engine.Optimize(in.soc, in.forecast.Load.Values, in.forecast.Solar.Values, in.forecast.Load.Timestamps)
	if err != nil {
		// Length precondition violation: a bug upstream, not a runtime
		// condition. The solve stage was reached, so the attempt counts.
		c.log.Errorf("cycle %s: optimizer rejected inputs: %v", cycleID, err)
		return c.finish(cycleID, now, true)
	}

	if verr := c.validator.Validate(&res); verr != nil {
		if c.cfg.StrictValidation {
			c.log.Errorf("cycle %s: solution rejected: %v", cycleID, verr)
			return c.finish(cycleID, now, true)
		}
		c.log.Warnf("cycle %s: solution failed validation, dispatching anyway: %v", cycleID, verr)
	}

	cmd := model.DispatchCommand{
		ID:             cycleID,
		Timestamp:      now,
		BatteryPowerKW: res.BatteryPowerKW[0],
		Status:         res.Status,
		StatusText:     res.Status.String(),
		Degraded:       in.degraded,
	}
	delivered := true
	if serr := c.sink.SendCommand(ctx, cmd.ID, cmd.BatteryPowerKW, now); serr != nil {
		// The command still counts as issued for bookkeeping.
		delivered = false
		c.log.Errorf("cycle %s: command delivery failed: %v", cycleID, serr)
	}

	sched := scheduleFromResult(now, c.engine.Params(), res)

	c.stateMu.Lock()
	c.state.OptimizationCount++
	c.state.LastOptimizationTime = now
	// Trust the model between cycles: advance to the one-step-ahead
	// prediction (equal to the input SoC on fallback).
	c.state.CurrentSoC = res.SoC[1]
	c.state.LastBatteryCommandKW = cmd.BatteryPowerKW
	resCopy := res.Clone()
	c.result = &resCopy
	c.command = &cmd
	c.schedule = &sched
	count := c.state.OptimizationCount
	c.stateMu.Unlock()

	c.publish(cmd, &sched)
	c.record(cycleID, &res, in.degraded, delivered, now)
	c.log.Infof("cycle %s complete (#%d): %s, %.2f kW", cycleID, count, res.Status, cmd.BatteryPowerKW)
	return cmd
}

// finish records a failed cycle with a zero-power, error-tagged command.
// solvingReached controls whether the attempt increments the cycle count.
func (c *Controller) finish(cycleID string, now time.Time, solvingReached bool) model.DispatchCommand {
	cmd := model.DispatchCommand{
		ID:         cycleID,
		Timestamp:  now,
		Status:     model.StatusError,
		StatusText: model.StatusError.String(),
	}
	c.stateMu.Lock()
	if solvingReached {
		c.state.OptimizationCount++
	}
	c.state.LastOptimizationTime = now
	c.command = &cmd
	c.stateMu.Unlock()

	c.publish(cmd, nil)
	if rec, ok := c.metrics.(metrics.CommandRecorder); ok {
		if err := rec.RecordCommand(metrics.CommandEvent{CommandID: cycleID, Status: model.StatusError, Time: now}); err != nil {
			c.log.Warnf("metrics: %v", err)
		}
	}
	return cmd
}

func (c *Controller) fetchInputs(ctx context.Context, now time.Time) cycleInputs {
	var (
		wg                        sync.WaitGroup
		load, solar               model.Series
		soc                       float64
		loadErr, solarErr, socErr error
	)
	wg.Add(3)
	go func() { defer wg.Done(); load, loadErr = c.forecasts.FetchLoad(ctx) }()
	go func() { defer wg.Done(); solar, solarErr = c.forecasts.FetchSolar(ctx) }()
	go func() { defer wg.Done(); soc, socErr = c.battery.ReadSoC(ctx) }()
	wg.Wait()

	in := cycleInputs{soc: soc}
	if loadErr != nil {
		c.log.Warnf("load forecast unavailable, using flat %.0f kW: %v", c.cfg.FallbackLoadKW, loadErr)
		load = c.fallbackSeries(now, c.cfg.FallbackLoadKW)
		in.degraded = true
	}
	if solarErr != nil {
		c.log.Warnf("solar forecast unavailable, assuming zero generation: %v", solarErr)
		solar = c.fallbackSeries(now, 0)
		in.degraded = true
	}
	if socErr != nil || soc < 0 || soc > 1 {
		c.log.Warnf("soc reading unusable (err=%v, value=%.3f), using initial %.3f", socErr, soc, c.cfg.InitialSoC)
		in.soc = c.cfg.InitialSoC
		in.degraded = true
	}
	in.forecast = model.ForecastSeries{Load: load, Solar: solar}
	if err := in.forecast.Validate(c.engine.Params().Steps); err != nil {
		// Misaligned or short series must never reach the solver;
		// replace the pair with the documented fallback inputs.
		c.log.Warnf("forecast series invalid, using fallback inputs: %v", err)
		in.forecast = model.ForecastSeries{
			Load:  c.fallbackSeries(now, c.cfg.FallbackLoadKW),
			Solar: c.fallbackSeries(now, 0),
		}
		in.degraded = true
	}
	return in
}

func (c *Controller) fallbackSeries(now time.Time, valueKW float64) model.Series {
	params := c.engine.Params()
	step := time.Duration(params.StepHours * float64(time.Hour))
	s := model.Series{
		Values:     make([]float64, params.Steps),
		Timestamps: make([]time.Time, params.Steps),
	}
	for i := range s.Values {
		s.Values[i] = valueKW
		s.Timestamps[i] = now.Add(time.Duration(i) * step)
	}
	return s
}

func (c *Controller) publish(cmd model.DispatchCommand, sched *model.Schedule) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishCommand(cmd); err != nil {
		c.log.Warnf("publish command: %v", err)
	}
	if sched != nil {
		if err := c.publisher.PublishSchedule(*sched); err != nil {
			c.log.Warnf("publish schedule: %v", err)
		}
	}
}

func (c *Controller) record(cycleID string, res *model.OptimizationResult, degraded, delivered bool, now time.Time) {
	ev := metrics.CycleEvent{
		CycleID:        cycleID,
		Status:         res.Status,
		Degraded:       degraded,
		SolveTime:      res.SolveTime,
		TotalCost:      res.TotalCost,
		EnergyCost:     res.EnergyCost,
		DemandCost:     res.DemandCost,
		PeakDemandKW:   res.PeakDemandKW,
		BatteryPowerKW: res.BatteryPowerKW[0],
		SoC:            res.SoC[1],
		Time:           now,
	}
	if err := c.metrics.RecordCycle(ev); err != nil {
		c.log.Warnf("metrics: %v", err)
	}
	if rec, ok := c.metrics.(metrics.CommandRecorder); ok {
		cev := metrics.CommandEvent{
			CommandID: cycleID,
			PowerKW:   res.BatteryPowerKW[0],
			Status:    res.Status,
			Delivered: delivered,
			Time:      now,
		}
		if err := rec.RecordCommand(cev); err != nil {
			c.log.Warnf("metrics: %v", err)
		}
	}
}

func scheduleFromResult(now time.Time, params model.HorizonParameters, res model.OptimizationResult) model.Schedule {
	return model.Schedule{
		Timestamp:      now,
		HorizonHours:   params.HorizonHours(),
		BatteryPowerKW: res.BatteryPowerKW,
		GridPowerKW:    res.GridPowerKW,
		SoC:            res.SoC,
		PeakDemandKW:   res.PeakDemandKW,
		TotalCost:      res.TotalCost,
		EnergyCost:     res.EnergyCost,
		DemandCost:     res.DemandCost,
		SolverStatus:   res.Status.String(),
		SolverTimeSecs: res.SolveTime.Seconds(),
	}
}
