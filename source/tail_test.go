package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/stream"
)

// inodeResolver resolves a handle to whichever known path holds the same
// file, or to "<name> (deleted)" like /proc does for unlinked files.
func inodeResolver(paths ...string) Resolver {
	return ResolverFunc(func(f *os.File) (string, error) {
		fi, err := f.Stat()
		if err != nil {
			return "", err
		}
		for _, p := range paths {
			if pi, err := os.Stat(p); err == nil && os.SameFile(fi, pi) {
				return p, nil
			}
		}
		return f.Name() + " (deleted)", nil
	})
}

// runTail drives a tail, calling onIdle with the running idle count, until
// want lines were read.
func runTail(t *testing.T, st *stream.Stage, want int, onIdle func(n int)) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lines []string
	idles := 0
	for ev, err := range st.Events(ctx) {
		require.NoError(t, err)
		if ev.Signal == stream.Idle {
			idles++
			onIdle(idles)
			continue
		}
		lines = append(lines, ev.Item.(string))
		if len(lines) == want {
			break
		}
	}
	return lines
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestTail_FollowsGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "a\nb\npart")

	st, err := Tail(path, TailOptions{Wait: time.Millisecond, Times: 100, Resolver: inodeResolver(path)})
	require.NoError(t, err)

	got := runTail(t, st, 4, func(n int) {
		switch n {
		case 1:
			appendFile(t, path, "ial\n")
		case 2:
			appendFile(t, path, "c\n")
		}
	})
	assert.Equal(t, []string{"a", "b", "partial", "c"}, got)
}

func TestTail_ReopensRotatedPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	archived := path + ".1"
	appendFile(t, path, "old-1\n")

	st, err := Tail(path, TailOptions{Wait: time.Millisecond, Times: 2, Resolver: inodeResolver(path, archived)})
	require.NoError(t, err)

	got := runTail(t, st, 3, func(n int) {
		if n == 1 {
			require.NoError(t, os.Rename(path, archived))
			appendFile(t, path, "new-1\nnew-2\n")
		}
	})
	assert.Equal(t, []string{"old-1", "new-1", "new-2"}, got)
}

func TestTail_SeeksAgainWhenPathRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "first\n")

	st, err := Tail(path, TailOptions{Wait: time.Millisecond, Times: 2, Resolver: inodeResolver(path)})
	require.NoError(t, err)

	got := runTail(t, st, 2, func(n int) {
		switch n {
		case 1:
			require.NoError(t, os.Remove(path))
		case 8:
			appendFile(t, path, "second\n")
		}
	})
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestTail_WaitsForMissingFileAndHonoursStartLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.log")
	st, err := Tail(path, TailOptions{Wait: time.Millisecond, StartLine: 1, Resolver: inodeResolver(path)})
	require.NoError(t, err)

	got := runTail(t, st, 2, func(n int) {
		if n == 2 {
			appendFile(t, path, "skip\nkeep-1\nkeep-2\n")
		}
	})
	assert.Equal(t, []string{"keep-1", "keep-2"}, got)
}

func TestTail_SymlinkedPathIsNotARotation(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(realDir, 0o755))
	require.NoError(t, os.Symlink(realDir, filepath.Join(dir, "logs")))
	path := filepath.Join(dir, "logs", "app.log")
	target := filepath.Join(realDir, "app.log")
	appendFile(t, target, "one\n")

	// Descriptors report the link target, as /proc does.
	resolved := ResolverFunc(func(*os.File) (string, error) { return target, nil })
	st, err := Tail(path, TailOptions{Wait: time.Millisecond, Times: 2, Resolver: resolved})
	require.NoError(t, err)

	got := runTail(t, st, 2, func(n int) {
		if n == 6 {
			appendFile(t, path, "two\n")
		}
	})
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestTail_FallsBackToIdentityWhenUnresolvable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendFile(t, path, "a\n")

	blind := ResolverFunc(func(*os.File) (string, error) { return "", ErrUnresolved })
	st, err := Tail(path, TailOptions{Wait: time.Millisecond, Times: 1, Resolver: blind})
	require.NoError(t, err)

	got := runTail(t, st, 3, func(n int) {
		switch n {
		case 3:
			appendFile(t, path, "b\n")
		case 4:
			require.NoError(t, os.Rename(path, path+".1"))
			appendFile(t, path, "c\n")
		}
	})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
