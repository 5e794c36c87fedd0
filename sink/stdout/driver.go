package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"streamline/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-item delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = no truncation

	Out io.Writer `yaml:"-"` // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards seq and writes
	seq uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Emit(_ context.Context, item any) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}
	b, err := sink.Encode(item)
	if err != nil {
		return err
	}
	if n := d.cfg.ValueMaxBytes; n > 0 && len(b) > n {
		b = append(b[:n:n], "..."...)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.PrintCounter {
		d.seq++
		_, err = fmt.Fprintf(d.cfg.Out, "[sink %06d] %s\n", d.seq, b)
	} else {
		_, err = fmt.Fprintf(d.cfg.Out, "%s\n", b)
	}
	return err
}

func (d *driver) EmitMany(ctx context.Context, items []any) error {
	failed := map[int]error{}
	for i, it := range items {
		if err := d.Emit(ctx, it); err != nil {
			failed[i] = err
		}
	}
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
