package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"streamline/sink"
)

type Config struct {
	Path   string `yaml:"path"`
	Append bool   `yaml:"append"` // false truncates on Configure
}

// driver writes one encoded item per line. Writes are buffered and flushed
// after every Emit/EmitMany so a crash loses at most the current batch.
type driver struct {
	cfg Config

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("file-sink: want Config, got %T", c)
	}
	if cfg.Path == "" {
		return errors.New("file-sink: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("file-sink: %w", err)
	}
	flag := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("file-sink: %w", err)
	}
	d.cfg, d.f, d.w = cfg, f, bufio.NewWriter(f)
	return nil
}

func (d *driver) write(item any) error {
	b, err := sink.Encode(item)
	if err != nil {
		return err
	}
	if _, err := d.w.Write(b); err != nil {
		return err
	}
	return d.w.WriteByte('\n')
}

func (d *driver) Emit(_ context.Context, item any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(item); err != nil {
		return err
	}
	return d.w.Flush()
}

func (d *driver) EmitMany(_ context.Context, items []any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	failed := map[int]error{}
	for i, it := range items {
		if err := d.write(it); err != nil {
			failed[i] = err
		}
	}
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("file-sink: flush %s: %w", d.cfg.Path, err)
	}
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := errors.Join(d.w.Flush(), d.f.Close())
	d.f, d.w = nil, nil
	return err
}

func init() { sink.Register("file", func() sink.Adapter { return &driver{} }) }
