package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine_SwitchesOnIdleAndEnd(t *testing.T) {
	idle := SignalEvent(Idle)
	a := events(Of(1), idle, Of(2))
	b := events(Of("x"), Of("y"), idle, Of("z"))
	c, err := Combine(a, b)
	require.NoError(t, err)

	assert.Equal(t, []Event{Of(1), idle, Of("x"), Of("y"), idle, Of(2), Of("z")}, all(t, c))
}

func TestCombine_ErrorEndsTheCombination(t *testing.T) {
	boom := errors.New("boom")
	bad := NewSource(SourceFunc(func(context.Context) Seq {
		return func(yield func(Event, error) bool) { yield(Event{}, boom) }
	}))
	c, err := Combine(items(1), bad, items(2))
	require.NoError(t, err)

	_, err = Collect(context.Background(), c)
	require.ErrorIs(t, err, boom)
}

func TestCombine_NeedsInputs(t *testing.T) {
	_, err := Combine()
	require.ErrorIs(t, err, ErrNoSources)
}
