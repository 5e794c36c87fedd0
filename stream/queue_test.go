package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PreservesOrderAcrossBoundary(t *testing.T) {
	in := make([]Item, 250)
	for i := range in {
		in[i] = i
	}
	q := Queue(QueueOptions{Batch: 16, Size: 2, Wait: time.Millisecond})
	got, err := Collect(context.Background(), items(in...).Then(q))
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestQueue_WorkerFailureArrivesAsError(t *testing.T) {
	boom := errors.New("disk gone")
	src := NewSource(SourceFunc(func(context.Context) Seq {
		return func(yield func(Event, error) bool) {
			if !yield(Of("a"), nil) || !yield(Of("b"), nil) {
				return
			}
			yield(Event{}, boom)
		}
	}))
	got, err := Collect(context.Background(), src.Then(Queue(QueueOptions{Batch: 10})))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []Item{"a", "b"}, got)
}

func TestQueue_IdleWhileWaitingWhenDownstreamBound(t *testing.T) {
	release := make(chan struct{})
	src := NewSource(SourceFunc(func(ctx context.Context) Seq {
		return func(yield func(Event, error) bool) {
			<-release
			yield(Of("late"), nil)
		}
	}))
	q := Queue(QueueOptions{Batch: 1, Wait: time.Millisecond})
	src.Then(q).Then(Map(func(it Item) (Item, error) { return it, nil }))

	idles := 0
	var got []Item
	for ev, err := range q.Events(context.Background()) {
		require.NoError(t, err)
		if ev.Signal == Idle {
			idles++
			if idles == 3 {
				close(release)
			}
			continue
		}
		got = append(got, ev.Item)
	}
	assert.GreaterOrEqual(t, idles, 3)
	assert.Equal(t, []Item{"late"}, got)
}

func TestQueue_ConsumerStopCancelsWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	src := NewSource(SourceFunc(func(ctx context.Context) Seq {
		return func(yield func(Event, error) bool) {
			defer close(stopped)
			for i := 0; ; i++ {
				if !yield(Of(i), nil) {
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}))
	q := src.Then(Queue(QueueOptions{Batch: 4, Size: 1}))
	for ev, err := range q.Events(ctx) {
		require.NoError(t, err)
		if ev.Item == 10 {
			break
		}
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker still running after consumer stopped")
	}
}
