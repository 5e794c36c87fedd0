package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"streamline/broker"
	"streamline/internal/logging"
	"streamline/sink"
	"streamline/stream"
)

const stopGrace = 2 * time.Second

// Stats counts what reached the outputs and what they rejected.
type Stats struct {
	Items    int64
	Failures int64
}

// Runner drives a compiled pipeline. Without a broker the chain is
// sources, stages, outputs. With one, the chain feeds a topic and the
// outputs read it back through a consumer.
type Runner struct {
	chain    *stream.Stage
	broker   *broker.Subscribe
	failures sink.Adapter
	closers  []io.Closer

	items  atomic.Int64
	failed atomic.Int64

	mu   sync.Mutex
	subs []func(sink.Failure)
}

func (r *Runner) deliver(in *stream.Stage, targets []sink.Target) *stream.Stage {
	count := stream.Map(func(it stream.Item) (stream.Item, error) {
		r.items.Add(1)
		return it, nil
	}, stream.WithName("count"))
	return in.Then(count).Then(sink.Deliver(targets...))
}

// OnFailure registers fn for every item an output could not deliver.
func (r *Runner) OnFailure(fn func(sink.Failure)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Broker is the embedded broker, nil when the pipeline has none.
func (r *Runner) Broker() *broker.Subscribe { return r.broker }

func (r *Runner) Stats() Stats {
	return Stats{Items: r.items.Load(), Failures: r.failed.Load()}
}

// Run pulls the pipeline until its sources end, ctx is cancelled, or the
// embedded broker is stopped. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})
	if r.broker != nil {
		g.Go(func() error {
			defer close(stopped)
			return r.broker.Run(gctx)
		})
	}
	if r.chain != nil {
		g.Go(func() error { return r.drain(gctx, stopped) })
	}
	return g.Wait()
}

func (r *Runner) drain(ctx context.Context, stopped <-chan struct{}) error {
	for ev, err := range r.chain.Events(ctx) {
		if err != nil {
			if ctx.Err() != nil || r.brokerStopping(ctx, stopped) {
				return nil
			}
			return err
		}
		if f, ok := ev.Item.(sink.Failure); ok {
			r.fail(ctx, f)
		}
	}
	logging.Component("pipeline").Info("pipeline finished", "items", r.items.Load(), "failures", r.failed.Load())
	return nil
}

// brokerStopping reports whether the embedded broker went down shortly
// after the outputs' consumer lost its connection.
func (r *Runner) brokerStopping(ctx context.Context, stopped <-chan struct{}) bool {
	if r.broker == nil {
		return false
	}
	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-stopped:
		return true
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func (r *Runner) fail(ctx context.Context, f sink.Failure) {
	r.failed.Add(1)
	if r.failures != nil {
		if err := r.failures.Emit(ctx, f); err != nil {
			logging.Component("pipeline").Error("failure record lost", "sink", f.Sink, "trace_id", f.TraceID, "err", err)
		}
	}

	r.mu.Lock()
	handlers := append([]func(sink.Failure){}, r.subs...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(f)
	}
}

// Close releases sinks, sources and connections opened by Compile.
func (r *Runner) Close() error {
	var errs *multierror.Error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	r.closers = nil
	return errs.ErrorOrNil()
}
