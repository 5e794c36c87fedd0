package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"streamline/broker"
	"streamline/internal/logging"
	"streamline/internal/pipeline"
	"streamline/internal/telemetry"
	"streamline/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	broker    *broker.Server
	metrics   *telemetry.Server
}

// ControlAddr is the gRPC control listener address.
func (e *Engine) ControlAddr() string { return e.transport.Addr() }

func (e *Engine) Runner() *pipeline.Runner { return e.runner }

// Run supervises every component until ctx ends, one of them fails, or
// the broker is stopped over its control channel.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		e.transport.Stop()
		return nil
	})
	g.Go(e.transport.Serve)

	if e.broker != nil {
		g.Go(func() error {
			defer cancel()
			return e.broker.Serve(gctx)
		})
	}
	if e.runner != nil {
		g.Go(func() error {
			err := e.runner.Run(gctx)
			st := e.runner.Stats()
			logging.Component("engine").Info("pipeline stopped", "items", st.Items, "failures", st.Failures)
			if e.runner.Broker() != nil {
				cancel()
			}
			return err
		})
	}

	err := g.Wait()
	e.close()
	return err
}

func (e *Engine) close() {
	if e.runner != nil {
		if err := e.runner.Close(); err != nil {
			logging.Component("engine").Warn("pipeline close", "err", err)
		}
	}
	if e.metrics != nil {
		_ = e.metrics.Close()
	}
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.broker != nil {
		_ = e.broker.Close()
	}
}
