package stream

import (
	"context"
	"errors"
	"iter"
)

var ErrNoSources = errors.New("stream: combiner needs at least one source")

type combiner struct{ inputs []*Stage }

// Combine interleaves several chains. It reads one chain until that chain
// goes Idle or ends, then moves to the next; the Idle itself is passed on.
// The combined stage ends when every chain has ended.
func Combine(inputs ...*Stage) (*Stage, error) {
	if len(inputs) == 0 {
		return nil, ErrNoSources
	}
	return newStage("combiner", &combiner{inputs: inputs}, nil), nil
}

func (c *combiner) Events(ctx context.Context) Seq {
	return func(yield func(Event, error) bool) {
		type puller struct {
			next func() (Event, error, bool)
			stop func()
		}
		ring := make([]puller, 0, len(c.inputs))
		for _, in := range c.inputs {
			next, stop := iter.Pull2(in.Events(ctx))
			ring = append(ring, puller{next: next, stop: stop})
		}
		defer func() {
			for _, p := range ring {
				p.stop()
			}
		}()

		for len(ring) > 0 {
			p := ring[0]
			ring = ring[1:]
			for {
				ev, err, ok := p.next()
				if !ok {
					p.stop()
					break
				}
				if !yield(ev, err) || err != nil {
					p.stop()
					return
				}
				if ev.Signal == Idle {
					ring = append(ring, p)
					break
				}
			}
		}
	}
}
