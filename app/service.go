// Package app assembles the service from configuration: solver engine,
// controller loop, HTTP API and metrics sinks.
package app

import (
	"context"
	"fmt"

	"github.com/mfallas/mpcdispatch/api"
	"github.com/mfallas/mpcdispatch/config"
	"github.com/mfallas/mpcdispatch/core/controller"
	coremetrics "github.com/mfallas/mpcdispatch/core/metrics"
	"github.com/mfallas/mpcdispatch/core/optimizer"
	"github.com/mfallas/mpcdispatch/infra/battery"
	"github.com/mfallas/mpcdispatch/infra/forecast"
	"github.com/mfallas/mpcdispatch/infra/logger"
	"github.com/mfallas/mpcdispatch/infra/metrics"
	"github.com/mfallas/mpcdispatch/infra/mqtt"
)

// Service orchestrates the optimization controller and the API server.
type Service struct {
	Controller *controller.Controller
	apiServer  *api.Server
	publisher  *mqtt.Publisher
	log        logger.Logger
	promAddr   string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	params := cfg.HorizonParameters()
	engine, err := optimizer.New(params, cfg.Tariff, logger.New("optimizer"))
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	var sinks []coremetrics.MetricsSink
	var promAddr string
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
		promAddr = cfg.Metrics.PrometheusAddr
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.NewPublisher(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
	}

	forecasts := forecast.NewClient(cfg.Reporter, params.Steps, cfg.Horizon.Step(), logger.New("forecast"))
	bms := battery.NewClient(cfg.BMS, logger.New("battery"))

	ctrlCfg := controller.Config{
		Interval:         cfg.Service.Interval(),
		CycleTimeout:     cfg.Service.CycleTimeout(),
		InitialSoC:       cfg.Battery.InitialSoC,
		FallbackLoadKW:   cfg.Service.FallbackLoadKW,
		StrictValidation: cfg.Service.StrictValidation,
	}
	var pub controller.SchedulePublisher
	if publisher != nil {
		pub = publisher
	}
	ctrl, err := controller.New(ctrlCfg, engine, forecasts, bms, bms, pub, sink, logger.New("controller"))
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	return &Service{
		Controller: ctrl,
		apiServer:  api.NewServer(cfg.Service.APIAddr, ctrl, logger.New("api")),
		publisher:  publisher,
		log:        logg,
		promAddr:   promAddr,
	}, nil
}

// Run starts the controller loop and the API server, blocking until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go func() {
		if err := s.Controller.Run(ctx); err != nil {
			s.log.Errorf("controller: %v", err)
		}
	}()
	if s.promAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if err := s.apiServer.Run(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	return nil
}
