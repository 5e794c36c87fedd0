package stream

import (
	"context"
	"time"

	"streamline/internal/window"
)

// reducer buffers items in a window and folds each full batch into one
// result. A final partial batch is flushed when the upstream ends.
type reducer struct {
	win *window.Window[Item]
	fn  func([]Item) (Item, error)
}

// Reduce folds windowed batches with fn. A zero size or timeout disables
// that trigger; with both disabled everything reduces at end of stream.
func Reduce(fn func([]Item) (Item, error), size int, timeout time.Duration, opts ...Option) *Stage {
	return newStage("reduce", newReducer(fn, window.New[Item](size, timeout)), opts)
}

// ReduceWindow is Reduce over a caller-supplied window.
func ReduceWindow(fn func([]Item) (Item, error), w *window.Window[Item], opts ...Option) *Stage {
	return newStage("reduce", newReducer(fn, w), opts)
}

// Group emits each full window as a []Item batch.
func Group(size int, timeout time.Duration, opts ...Option) *Stage {
	return GroupWindow(window.New[Item](size, timeout), opts...)
}

func GroupWindow(w *window.Window[Item], opts ...Option) *Stage {
	batch := func(items []Item) (Item, error) { return items, nil }
	return newStage("group", newReducer(batch, w), opts)
}

func newReducer(fn func([]Item) (Item, error), w *window.Window[Item]) *reducer {
	return &reducer{win: w, fn: fn}
}

func (r *reducer) Handle(_ context.Context, it Item) (Item, error) {
	r.win.Append(it)
	if !r.win.Full() {
		return nil, nil
	}
	return r.fn(r.win.Drain())
}

func (r *reducer) HandleIdle(context.Context) ([]Item, error) {
	if !r.win.Full() {
		return nil, nil
	}
	return r.fire()
}

func (r *reducer) Finish(context.Context) ([]Item, error) {
	if r.win.Empty() {
		return nil, nil
	}
	return r.fire()
}

func (r *reducer) fire() ([]Item, error) {
	out, err := r.fn(r.win.Drain())
	if err != nil || out == nil {
		return nil, err
	}
	return []Item{out}, nil
}
