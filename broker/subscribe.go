package broker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"streamline/internal/logging"
	"streamline/stream"
)

// Subscribe runs a broker and, optionally, a sensor pipeline that feeds
// it. The sensor talks to the broker only through the wire protocol.
type Subscribe struct {
	srv   *Server
	feed  *stream.Stage
	topic string
}

func NewSubscribe(cfg Config) (*Subscribe, error) {
	srv, err := Listen(cfg)
	if err != nil {
		return nil, err
	}
	return &Subscribe{srv: srv}, nil
}

// Feed publishes everything src produces to topic while the broker runs.
func (s *Subscribe) Feed(src *stream.Stage, topic string) *Subscribe {
	s.feed, s.topic = src, topic
	return s
}

func (s *Subscribe) Addr() string { return s.srv.Addr() }

// Topic is a consumer source on this broker.
func (s *Subscribe) Topic(name string, opts ConsumerOptions) (*stream.Stage, error) {
	return Consume(s.Addr(), name, opts)
}

func (s *Subscribe) Control() *Control { return NewControl(s.Addr()) }

// Close stops the broker; it also releases the listener when Run was never
// called.
func (s *Subscribe) Close() error { return s.srv.Close() }

// Run serves until ctx ends or a stop command arrives. The sensor is
// cancelled when the broker stops; its failures are logged, not returned.
func (s *Subscribe) Run(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.srv.Serve(gctx)
	})
	if s.feed != nil {
		g.Go(func() error {
			s.sense(sctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Subscribe) sense(ctx context.Context) {
	p, err := NewProducer(ctx, s.Addr())
	if err != nil {
		logging.L().Error("sensor error", "err", err)
		return
	}
	defer p.Close()
	chain := s.feed.Then(Publish(p, s.topic, stream.PropagateErrors()))
	for _, err := range chain.Events(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				logging.L().Error("sensor error", "topic", s.topic, "err", err)
			}
			return
		}
	}
	logging.L().Info("sensor finished", "topic", s.topic)
}
