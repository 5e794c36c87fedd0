package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestWindow_SizeTrigger(t *testing.T) {
	w := New[int](3, 0)
	assert.False(t, w.Full())
	for i := 0; i < 2; i++ {
		w.Append(i)
		assert.False(t, w.Full())
	}
	w.Append(2)
	assert.True(t, w.Full())

	got := w.Drain()
	require.Equal(t, []int{0, 1, 2}, got)
	assert.True(t, w.Empty())
	assert.False(t, w.Full())
}

func TestWindow_TimeTrigger(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	w := New[string](0, time.Second).WithClock(clk.now)

	clk.advance(5 * time.Second)
	assert.False(t, w.Full(), "empty window must never be full")

	w.Append("a")
	clk.advance(999 * time.Millisecond)
	assert.False(t, w.Full())
	clk.advance(time.Millisecond)
	assert.True(t, w.Full())
}

func TestWindow_TimerStartsAtFirstAppend(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	w := New[int](0, time.Second).WithClock(clk.now)

	w.Append(1)
	clk.advance(2 * time.Second)
	require.True(t, w.Full())
	w.Drain()

	w.Append(2)
	assert.False(t, w.Full(), "timer restarts after drain")
}

func TestWindow_EitherTrigger(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	w := New[int](10, time.Second).WithClock(clk.now)
	w.Append(1)
	assert.False(t, w.Full())
	clk.advance(time.Second)
	assert.True(t, w.Full(), "time bound fires before size bound")

	w.Drain()
	for i := 0; i < 10; i++ {
		w.Append(i)
	}
	assert.True(t, w.Full(), "size bound fires before time bound")
}

func TestWindow_NoBoundsNeverFull(t *testing.T) {
	w := New[int](0, 0)
	for i := 0; i < 1000; i++ {
		w.Append(i)
	}
	assert.False(t, w.Full())
	assert.Equal(t, 1000, w.Len())
}
