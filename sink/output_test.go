package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/sink"
	"streamline/source"
	"streamline/stream"
)

var errDown = errors.New("downstream unavailable")

// recorder keeps what it accepted and rejects the items in reject.
type recorder struct {
	sink.Null
	reject  map[any]bool
	whole   bool
	got     []any
	batches int
}

func (r *recorder) Emit(_ context.Context, item any) error {
	if r.reject[item] {
		return errDown
	}
	r.got = append(r.got, item)
	return nil
}

func (r *recorder) EmitMany(_ context.Context, items []any) error {
	r.batches++
	if r.whole {
		return errDown
	}
	failed := map[int]error{}
	for i, it := range items {
		if r.reject[it] {
			failed[i] = errDown
			continue
		}
		r.got = append(r.got, it)
	}
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func failures(t *testing.T, out []stream.Item) []sink.Failure {
	t.Helper()
	fs := make([]sink.Failure, len(out))
	for i, it := range out {
		f, ok := it.(sink.Failure)
		require.True(t, ok, "unexpected %T", it)
		fs[i] = f
	}
	return fs
}

func TestOutput_FailedItemsComeOutAsRecords(t *testing.T) {
	r := &recorder{reject: map[any]bool{"b": true}}
	chain := source.Memory("a", "b", "c").Then(sink.Output("rec", r))

	out, err := stream.Collect(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, r.got)

	fs := failures(t, out)
	require.Len(t, fs, 1)
	assert.Equal(t, "rec", fs[0].Sink)
	assert.Equal(t, "b", fs[0].Data)
	assert.ErrorIs(t, fs[0].Err, errDown)
	assert.NotEmpty(t, fs[0].Traceback)
	assert.NotEmpty(t, fs[0].TraceID)

	b, err := json.Marshal(fs[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"exception":"downstream unavailable"`)
}

func TestBatch_PartialFailureReportsOnlyFailedItems(t *testing.T) {
	r := &recorder{reject: map[any]bool{2: true, 5: true}}
	chain := source.Memory(1, 2, 3, 4, 5).Then(sink.Batch("rec", r, 2, time.Hour))

	out, err := stream.Collect(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, 3, r.batches)
	assert.Equal(t, []any{1, 3, 4}, r.got)

	fs := failures(t, out)
	require.Len(t, fs, 2)
	assert.Equal(t, 2, fs[0].Data)
	assert.Equal(t, 5, fs[1].Data)
}

func TestBatch_WholeFailureReportsEveryItem(t *testing.T) {
	r := &recorder{whole: true}
	chain := source.Memory("x", "y", "z").Then(sink.Batch("rec", r, 10, 0))

	out, err := stream.Collect(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, 1, r.batches)
	assert.Len(t, failures(t, out), 3)
}

func TestRegistry(t *testing.T) {
	a, err := sink.NewAdapter("null")
	require.NoError(t, err)
	require.NoError(t, a.Emit(context.Background(), "x"))

	_, err = sink.NewAdapter("carrier-pigeon")
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	b, err := sink.Encode("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(b))

	b, err = sink.Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))
}

func TestDeliver_EveryTargetGetsEveryItem(t *testing.T) {
	direct := &recorder{}
	batched := &recorder{reject: map[any]bool{"b": true}}
	chain := source.Memory("a", "b", "c").Then(sink.Deliver(
		sink.Target{Name: "direct", Adapter: direct},
		sink.Target{Name: "batched", Adapter: batched, Size: 2},
	))

	out, err := stream.Collect(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, direct.got)
	assert.Equal(t, []any{"a", "c"}, batched.got)
	assert.Equal(t, 2, batched.batches)

	fs := failures(t, out)
	require.Len(t, fs, 1)
	assert.Equal(t, "batched", fs[0].Sink)
	assert.Equal(t, "b", fs[0].Data)
}
