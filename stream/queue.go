package stream

import (
	"context"
	"time"

	"streamline/internal/window"
)

type QueueOptions struct {
	// Batch and Timeout bound the windows the worker hands over.
	Batch   int
	Timeout time.Duration
	// Size bounds the number of batches in flight.
	Size int
	// Wait is the poll interval while the queue is empty.
	Wait time.Duration
}

type batch struct {
	items []Item
	err   error
}

type queue struct{ opts QueueOptions }

// Queue runs everything upstream of it in its own goroutine and relays the
// results in windowed batches over a bounded channel. A full channel blocks
// the worker, never the reader. The channel closing marks end of stream and
// a worker failure arrives as an error, in order after the items before it.
func Queue(opts QueueOptions, stageOpts ...Option) *Stage {
	if opts.Size <= 0 {
		opts.Size = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 100 * time.Millisecond
	}
	return newStage("queue", &queue{opts: opts}, stageOpts)
}

func (q *queue) Transform(ctx context.Context, in Seq, downstream bool) Seq {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan batch, q.opts.Size)
		go q.work(ctx, in, ch)

		pacer := NewPacer(q.opts.Wait)
		for {
			var (
				b  batch
				ok bool
			)
			if downstream {
				select {
				case b, ok = <-ch:
				default:
					if !pacer.Idle(ctx, yield) {
						return
					}
					continue
				}
			} else {
				select {
				case b, ok = <-ch:
				case <-ctx.Done():
					yield(Event{}, ctx.Err())
					return
				}
			}
			if !ok {
				return
			}
			for _, it := range b.items {
				if !yield(Of(it), nil) {
					return
				}
			}
			if b.err != nil {
				yield(Event{}, b.err)
				return
			}
		}
	}
}

func (q *queue) work(ctx context.Context, in Seq, ch chan<- batch) {
	defer close(ch)
	win := window.New[Item](q.opts.Batch, q.opts.Timeout)
	send := func(b batch) bool {
		select {
		case ch <- b:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev, err := range in {
		if err != nil {
			if ctx.Err() == nil {
				send(batch{items: win.Drain(), err: err})
			}
			return
		}
		if !ev.IsSignal() {
			win.Append(ev.Item)
		}
		if win.Full() && !send(batch{items: win.Drain()}) {
			return
		}
	}
	if !win.Empty() {
		send(batch{items: win.Drain()})
	}
}
