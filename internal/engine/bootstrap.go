package engine

import (
	"context"
	"fmt"

	"streamline/broker"
	"streamline/internal/config"
	"streamline/internal/logging"
	"streamline/internal/pipeline"
	"streamline/internal/telemetry"
	"streamline/internal/transport"
)

type Config struct {
	GRPCPort int
	// MetricsPort serves /metrics; negative disables it.
	MetricsPort int
	// PipelineYml is optional; without it only the control plane and a
	// standalone broker run.
	PipelineYml string
	// BrokerYml starts a standalone broker when the pipeline does not embed
	// one.
	BrokerYml string
}

func Bootstrap(ctx context.Context, cfg Config) (_ *Engine, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := &Engine{}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	// 1. pipeline runner
	if cfg.PipelineYml != "" {
		if e.runner, err = pipeline.Compile(cfg.PipelineYml); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	// 2. broker
	var ctl *broker.Control
	switch {
	case e.runner != nil && e.runner.Broker() != nil:
		ctl = e.runner.Broker().Control()
	case cfg.BrokerYml != "":
		bc, err := config.LoadBrokerConfig(cfg.BrokerYml)
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		if e.broker, err = broker.Listen(bc); err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		ctl = broker.NewControl(e.broker.Addr())
	}

	// 3. transport server
	if e.transport, err = transport.StartServer(cfg.GRPCPort, ctl); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 4. metrics
	if cfg.MetricsPort >= 0 {
		if e.metrics, err = telemetry.Expose(cfg.MetricsPort); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		logging.Component("engine").Info("metrics listening", "addr", e.metrics.Addr())
	}
	return e, nil
}
