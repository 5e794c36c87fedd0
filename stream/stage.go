package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"streamline/internal/logging"
	"streamline/internal/telemetry"
)

var (
	ErrNoUpstream     = errors.New("stream: stage has no upstream")
	ErrSourceUpstream = errors.New("stream: a source cannot have an upstream")
)

/*──────── stage behaviours ───────*/

// Handler transforms one item. A nil result is suppressed.
type Handler interface {
	Handle(ctx context.Context, item Item) (Item, error)
}

// Expander turns one item into zero or more items.
type Expander interface {
	Expand(ctx context.Context, item Item) ([]Item, error)
}

// IdleHandler reacts to an Idle signal; returned items are emitted before
// the signal is forwarded.
type IdleHandler interface {
	HandleIdle(ctx context.Context) ([]Item, error)
}

// Finisher emits whatever is still buffered once the upstream is exhausted.
type Finisher interface {
	Finish(ctx context.Context) ([]Item, error)
}

// ErrorHandler replaces the default warn-and-continue report for items
// whose handling failed.
type ErrorHandler interface {
	HandleError(item Item, err error)
}

// Source produces the head of a chain and never has an upstream.
type Source interface {
	Events(ctx context.Context) Seq
}

// Transformer owns its whole input sequence. Stages that need to see the
// stream as a unit (sort, queue) implement it instead of Handler.
type Transformer interface {
	Transform(ctx context.Context, in Seq, downstream bool) Seq
}

type HandlerFunc func(ctx context.Context, item Item) (Item, error)

func (f HandlerFunc) Handle(ctx context.Context, item Item) (Item, error) { return f(ctx, item) }

type ExpanderFunc func(ctx context.Context, item Item) ([]Item, error)

func (f ExpanderFunc) Expand(ctx context.Context, item Item) ([]Item, error) { return f(ctx, item) }

type SourceFunc func(ctx context.Context) Seq

func (f SourceFunc) Events(ctx context.Context) Seq { return f(ctx) }

/*──────── stage ───────*/

// Stage is one node of a pipeline. It owns a reference to its upstream;
// Then links chains together.
type Stage struct {
	name       string
	proc       any
	upstream   *Stage
	downstream bool
	propagate  bool
}

type Option func(*Stage)

func WithName(name string) Option { return func(s *Stage) { s.name = name } }

// PropagateErrors makes a handling failure end the pipeline instead of
// being reported and skipped.
func PropagateErrors() Option { return func(s *Stage) { s.propagate = true } }

func newStage(kind string, proc any, opts []Option) *Stage {
	s := &Stage{name: kind, proc: proc}
	for _, o := range opts {
		o(s)
	}
	return s
}

// New wraps a Handler or an Expander. It panics on any other type so that
// wiring mistakes surface when the chain is built.
func New(proc any, opts ...Option) *Stage {
	switch proc.(type) {
	case Handler, Expander, Transformer:
	default:
		panic(fmt.Sprintf("stream: %T is not a Handler, Expander or Transformer", proc))
	}
	return newStage(fmt.Sprintf("%T", proc), proc, opts)
}

func NewSource(src Source, opts ...Option) *Stage {
	return newStage(fmt.Sprintf("%T", src), src, opts)
}

func (s *Stage) Name() string { return s.name }

// Upstream returns the stage this one pulls from, or nil.
func (s *Stage) Upstream() *Stage { return s.upstream }

// Then attaches s at the root of next's chain and returns next, so
// a.Then(b).Then(c) reads source to sink and returns c.
func (s *Stage) Then(next *Stage) *Stage {
	root := next
	for root.upstream != nil {
		root = root.upstream
	}
	if root == s {
		panic("stream: chain would contain a cycle")
	}
	root.upstream = s
	s.downstream = true
	return next
}

// Chain links stages in order and returns the last one.
func Chain(head *Stage, rest ...*Stage) *Stage {
	tail := head
	for _, st := range rest {
		tail = tail.Then(st)
	}
	return tail
}

// Events is the stage's output. Reading a non-source stage with no
// upstream fails with ErrNoUpstream.
func (s *Stage) Events(ctx context.Context) Seq {
	return func(yield func(Event, error) bool) {
		if src, ok := s.proc.(Source); ok {
			if s.upstream != nil {
				yield(Event{}, fmt.Errorf("%w: %s", ErrSourceUpstream, s.name))
				return
			}
			for ev, err := range src.Events(ctx) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
			return
		}
		if s.upstream == nil {
			yield(Event{}, fmt.Errorf("%w: %s", ErrNoUpstream, s.name))
			return
		}
		in := s.upstream.Events(ctx)
		if t, ok := s.proc.(Transformer); ok {
			for ev, err := range t.Transform(ctx, in, s.downstream) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
			return
		}
		s.pump(ctx, in, yield)
	}
}

func (s *Stage) pump(ctx context.Context, in Seq, yield func(Event, error) bool) {
	emit := func(items []Item) bool {
		for _, it := range items {
			if it == nil {
				continue
			}
			if !yield(Of(it), nil) {
				return false
			}
		}
		return true
	}

	for ev, err := range in {
		if err != nil {
			yield(Event{}, err)
			return
		}
		switch ev.Signal {
		case Skip:
			continue
		case Idle:
			if h, ok := s.proc.(IdleHandler); ok {
				out, err := h.HandleIdle(ctx)
				if err != nil {
					if !s.fail(nil, err, yield) {
						return
					}
				} else if !emit(out) {
					return
				}
			}
			if s.downstream && !yield(ev, nil) {
				return
			}
			continue
		}

		out, err := s.handle(ctx, ev.Item)
		telemetry.StageItems.WithLabelValues(s.name).Inc()
		if err != nil {
			if !s.fail(ev.Item, err, yield) {
				return
			}
			continue
		}
		if !emit(out) {
			return
		}
	}

	if f, ok := s.proc.(Finisher); ok {
		out, err := f.Finish(ctx)
		if err != nil {
			s.fail(nil, err, yield)
			return
		}
		emit(out)
	}
}

func (s *Stage) handle(ctx context.Context, item Item) ([]Item, error) {
	switch p := s.proc.(type) {
	case Handler:
		out, err := p.Handle(ctx, item)
		if err != nil || out == nil {
			return nil, err
		}
		return []Item{out}, nil
	case Expander:
		return p.Expand(ctx, item)
	}
	return nil, fmt.Errorf("stream: %s cannot handle items", s.name)
}

// fail applies the error policy. It reports whether iteration may go on.
func (s *Stage) fail(item Item, err error, yield func(Event, error) bool) bool {
	telemetry.StageErrors.WithLabelValues(s.name).Inc()
	if s.propagate {
		yield(Event{}, fmt.Errorf("%s: %w", s.name, err))
		return false
	}
	if h, ok := s.proc.(ErrorHandler); ok {
		h.HandleError(item, err)
		return true
	}
	logging.L().Warn("stage handling failed",
		"stage", s.name, "err", err, "item", item,
		"trace_id", logging.TraceID(), "stack", string(debug.Stack()))
	return true
}

/*──────── drivers ───────*/

// Collect drains a chain and returns its items, dropping signals.
func Collect(ctx context.Context, s *Stage) ([]Item, error) {
	var out []Item
	for ev, err := range s.Events(ctx) {
		if err != nil {
			return out, err
		}
		if !ev.IsSignal() {
			out = append(out, ev.Item)
		}
	}
	return out, nil
}
