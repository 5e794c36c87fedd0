package sink

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"streamline/internal/logging"
	"streamline/internal/telemetry"
	"streamline/internal/window"
	"streamline/stream"
)

// Target is one destination of Deliver. Size or Timeout above zero batch
// items through a window and send them with EmitMany.
type Target struct {
	Name    string
	Adapter Adapter
	Size    int
	Timeout time.Duration
}

// route sends items to one adapter and returns the Failures.
type route interface {
	put(ctx context.Context, item any) []any
	idle(ctx context.Context) []any
	flush(ctx context.Context) []any
}

func newRoute(t Target) route {
	if t.Size > 1 || t.Timeout > 0 {
		return &batcher{name: t.Name, a: t.Adapter, win: window.New[any](t.Size, t.Timeout)}
	}
	return &single{name: t.Name, a: t.Adapter}
}

type deliverer struct{ routes []route }

// Output sends each item to a. Delivered items are consumed; an item that
// fails comes out of the stage as a Failure so the caller decides what to
// do with it.
func Output(name string, a Adapter) *stream.Stage {
	return Deliver(Target{Name: name, Adapter: a})
}

// Batch collects items in a size/time window and sends each full window
// with EmitMany. Undelivered items come out as Failures; a partial batch
// failure only reports the items that actually failed.
func Batch(name string, a Adapter, size int, timeout time.Duration) *stream.Stage {
	if size <= 1 && timeout <= 0 {
		size = 2
	}
	return Deliver(Target{Name: name, Adapter: a, Size: size, Timeout: timeout})
}

// Deliver sends every item to every target.
func Deliver(targets ...Target) *stream.Stage {
	d := &deliverer{}
	name := "output"
	for i, t := range targets {
		d.routes = append(d.routes, newRoute(t))
		if i == 0 {
			name += ":" + t.Name
		} else {
			name += "," + t.Name
		}
	}
	return stream.New(d, stream.WithName(name))
}

func (d *deliverer) Expand(ctx context.Context, item any) ([]any, error) {
	var out []any
	for _, r := range d.routes {
		out = append(out, r.put(ctx, item)...)
	}
	return out, nil
}

func (d *deliverer) HandleIdle(ctx context.Context) ([]any, error) {
	var out []any
	for _, r := range d.routes {
		out = append(out, r.idle(ctx)...)
	}
	return out, nil
}

func (d *deliverer) Finish(ctx context.Context) ([]any, error) {
	var out []any
	for _, r := range d.routes {
		out = append(out, r.flush(ctx)...)
	}
	return out, nil
}

func fail(name string, item any, err error) Failure {
	f := Failure{Sink: name, Data: item, Err: err, Traceback: string(debug.Stack()), TraceID: logging.TraceID()}
	telemetry.SinkFailures.WithLabelValues(name).Inc()
	logging.L().Error("output failed", "sink", name, "err", err, "trace_id", f.TraceID)
	return f
}

/*──────── single ───────*/

type single struct {
	name string
	a    Adapter
}

func (s *single) put(ctx context.Context, item any) []any {
	if err := s.a.Emit(ctx, item); err != nil {
		return []any{fail(s.name, item, err)}
	}
	return nil
}

func (s *single) idle(context.Context) []any  { return nil }
func (s *single) flush(context.Context) []any { return nil }

/*──────── batch ───────*/

type batcher struct {
	name string
	a    Adapter
	win  *window.Window[any]
}

func (b *batcher) put(ctx context.Context, item any) []any {
	b.win.Append(item)
	if !b.win.Full() {
		return nil
	}
	return b.send(ctx)
}

func (b *batcher) idle(ctx context.Context) []any {
	if !b.win.Full() {
		return nil
	}
	return b.send(ctx)
}

func (b *batcher) flush(ctx context.Context) []any {
	if b.win.Empty() {
		return nil
	}
	return b.send(ctx)
}

func (b *batcher) send(ctx context.Context) []any {
	items := b.win.Drain()
	err := b.a.EmitMany(ctx, items)
	if err == nil {
		logging.L().Debug("batch sent", "sink", b.name, "items", len(items))
		return nil
	}
	var pe *PartialError
	if !errors.As(err, &pe) {
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = fail(b.name, it, err)
		}
		return out
	}
	out := make([]any, 0, len(pe.Failed))
	for i, it := range items {
		if ferr, ok := pe.Failed[i]; ok {
			out = append(out, fail(b.name, it, ferr))
		}
	}
	return out
}
