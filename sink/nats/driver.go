package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"streamline/sink"
)

type Config struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"flush_timeout"`
}

// publisher is the part of *nats.Conn the driver uses.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(time.Duration) error
	Drain() error
}

type driver struct {
	cfg Config
	nc  publisher
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("nats-sink: want Config, got %T", c)
	}
	if cfg.Subject == "" {
		return errors.New("nats-sink: subject is required")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d.cfg = cfg

	opts := []nats.Option{nats.MaxReconnects(-1)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats-sink: connect %s: %w", cfg.URL, err)
	}
	d.nc = nc
	return nil
}

func (d *driver) Emit(_ context.Context, item any) error {
	b, err := sink.Encode(item)
	if err != nil {
		return err
	}
	return d.nc.Publish(d.cfg.Subject, b)
}

// EmitMany publishes every item and then flushes once, so a flush failure
// fails the batch as a whole.
func (d *driver) EmitMany(ctx context.Context, items []any) error {
	failed := map[int]error{}
	for i, it := range items {
		if err := d.Emit(ctx, it); err != nil {
			failed[i] = err
		}
	}
	if err := d.nc.FlushTimeout(d.cfg.Timeout); err != nil {
		return fmt.Errorf("nats-sink: flush: %w", err)
	}
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func (d *driver) Close() error {
	if d.nc == nil {
		return nil
	}
	err := d.nc.Drain()
	d.nc = nil
	return err
}

func init() { sink.Register("nats", func() sink.Adapter { return &driver{} }) }
