package source

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/internal/dedup"
	"streamline/stream"
)

func TestFile_ReadsInNameOrderAndOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.log"), []byte("b1\nb2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("a1\n"), 0o644))
	state := filepath.Join(dir, "state", "seen.bloom")

	run := func() []stream.Item {
		f, err := dedup.New("bloom", state, dedup.Options{Capacity: 1000})
		require.NoError(t, err)
		st, err := File(filepath.Join(dir, "*.log"), FileOptions{Filter: f})
		require.NoError(t, err)
		got, err := stream.Collect(context.Background(), st)
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, []stream.Item{"a1", "b1", "b2"}, run())
	assert.Empty(t, run(), "finished files are not read again after restart")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.log"), []byte("c1\n"), 0o644))
	assert.Equal(t, []stream.Item{"c1"}, run())
}

func TestFile_PartialReadIsRetried(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("1\n2\n3\n"), 0o644))
	f, err := dedup.New("max", filepath.Join(dir, "mark"), dedup.Options{})
	require.NoError(t, err)

	st, err := File(filepath.Join(dir, "*.log"), FileOptions{Filter: f})
	require.NoError(t, err)
	for ev, err := range st.Events(context.Background()) {
		require.NoError(t, err)
		if ev.Item == "1" {
			break
		}
	}
	assert.False(t, f.Contains(filepath.Join(dir, "a.log")))

	got, err := stream.Collect(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{"1", "2", "3"}, got)
	assert.True(t, f.Contains(filepath.Join(dir, "a.log")))
}

func TestCsv_Records(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.csv"), []byte("a;1\n\"b;c\";2\n"), 0o644))

	st, err := Csv(filepath.Join(dir, "*.csv"), FileOptions{}, func(r *csv.Reader) { r.Comma = ';' })
	require.NoError(t, err)
	got, err := stream.Collect(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{[]string{"a", "1"}, []string{"b;c", "2"}}, got)
}

func TestCsv_MalformedFileIsSkippedForTheRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x,y\nbad\"q,z\n"), 0o644))
	f, err := dedup.New("bloom", "", dedup.Options{Capacity: 100})
	require.NoError(t, err)

	st, err := Csv(filepath.Join(dir, "*.csv"), FileOptions{Filter: f}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := stream.Collect(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []stream.Item{[]string{"x", "y"}}, got)
	assert.False(t, f.Contains(filepath.Join(dir, "a.csv")), "a failed file stays unrecorded")
}

func TestFile_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	st, err := File(filepath.Join(dir, "*.log"), FileOptions{FileWait: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Collect(ctx, st)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFile_BadPattern(t *testing.T) {
	_, err := File("[", FileOptions{})
	require.Error(t, err)
}
