package stream

import (
	"context"
	"time"
)

// Pacer spaces out polling. Callers yield Idle, then Wait; the wait is
// shortened by however long the consumer took to process that Idle.
type Pacer struct {
	interval time.Duration
	mark     time.Time
}

func NewPacer(interval time.Duration) *Pacer { return &Pacer{interval: interval} }

// Mark records the moment an Idle is about to be yielded.
func (p *Pacer) Mark() { p.mark = time.Now() }

// Wait sleeps out the rest of the interval since Mark, or returns early
// with ctx's error.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.interval - time.Since(p.mark)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Idle yields an Idle event and paces the next poll. It reports false when
// the consumer stopped or ctx ended.
func (p *Pacer) Idle(ctx context.Context, yield func(Event, error) bool) bool {
	p.Mark()
	if !yield(SignalEvent(Idle), nil) {
		return false
	}
	if err := p.Wait(ctx); err != nil {
		yield(Event{}, err)
		return false
	}
	return true
}
