package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"streamline/internal/logging"
	"streamline/stream"
)

type TailOptions struct {
	// Wait is the poll interval while no data is available.
	Wait time.Duration
	// Times is how many empty polls in a row are tolerated before checking
	// whether the file was rotated away.
	Times int
	// StartLine skips that many lines on first open; negative starts at the end.
	StartLine int
	// Position seeks to a byte offset on first open; negative counts from
	// the end. It wins over StartLine.
	Position int64
	Resolver Resolver
}

type tailState int

const (
	seekingFile tailState = iota
	reading
	recovering
)

func (s tailState) String() string {
	switch s {
	case seekingFile:
		return "SEEKING_FILE"
	case reading:
		return "READING"
	case recovering:
		return "RECOVERING"
	}
	return "UNKNOWN"
}

type tail struct {
	path string
	opts TailOptions

	f          *os.File
	r          *bufio.Reader
	partial    []byte
	stalls     int
	lineno     int
	positioned bool
}

// Tail follows a growing file, surviving rotations. It waits for the file
// to appear, emits each complete line without its newline, and yields Idle
// while no new data is available.
func Tail(path string, opts TailOptions) (*stream.Stage, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if opts.Wait <= 0 {
		opts.Wait = time.Second
	}
	if opts.Times <= 0 {
		opts.Times = 3
	}
	if opts.Resolver == nil {
		opts.Resolver = ProcResolver{}
	}
	return stream.NewSource(&tail{path: abs, opts: opts}, stream.WithName("tail")), nil
}

func (t *tail) Events(ctx context.Context) stream.Seq {
	return func(yield func(stream.Event, error) bool) {
		defer t.close()
		pacer := stream.NewPacer(t.opts.Wait)
		state := seekingFile
		logging.L().Info("tail seeking file", "path", t.path)

		for {
			if err := ctx.Err(); err != nil {
				yield(stream.Event{}, err)
				return
			}
			switch state {
			case seekingFile:
				ok, err := t.open()
				if err != nil {
					yield(stream.Event{}, err)
					return
				}
				if !ok {
					if !pacer.Idle(ctx, yield) {
						return
					}
					continue
				}
				logging.L().Info("tail caught file", "path", t.path)
				state = reading

			case reading:
				line, ok, err := t.readLine()
				if err != nil {
					yield(stream.Event{}, fmt.Errorf("tail %s: %w", t.path, err))
					return
				}
				if ok {
					t.stalls = 0
					t.lineno++
					if !yield(stream.Of(line), nil) {
						return
					}
					continue
				}
				t.stalls++
				if t.stalls > t.opts.Times {
					state = recovering
					continue
				}
				if !pacer.Idle(ctx, yield) {
					return
				}

			case recovering:
				t.stalls = 0
				state = t.recover()
			}
		}
	}
}

// open opens the target path. A missing file is not an error; the caller
// keeps polling.
func (t *tail) open() (bool, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tail: open %s: %w", t.path, err)
	}
	t.f = f
	t.r = bufio.NewReader(f)
	t.partial = nil
	t.lineno = 0
	if !t.positioned {
		t.positioned = true
		if err := t.seek(); err != nil {
			return false, fmt.Errorf("tail: seek %s: %w", t.path, err)
		}
	}
	return true, nil
}

func (t *tail) seek() error {
	switch {
	case t.opts.Position > 0:
		_, err := t.f.Seek(t.opts.Position, io.SeekStart)
		t.r.Reset(t.f)
		return err
	case t.opts.Position < 0:
		_, err := t.f.Seek(t.opts.Position, io.SeekEnd)
		t.r.Reset(t.f)
		return err
	case t.opts.StartLine < 0:
		_, err := t.f.Seek(0, io.SeekEnd)
		t.r.Reset(t.f)
		return err
	}
	for i := 0; i < t.opts.StartLine; i++ {
		if _, err := t.r.ReadBytes('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		t.lineno++
	}
	return nil
}

// readLine returns the next complete line. Bytes after the last newline are
// held back until the line is finished.
func (t *tail) readLine() (string, bool, error) {
	data, err := t.r.ReadBytes('\n')
	if err == nil {
		line := append(t.partial, data[:len(data)-1]...)
		t.partial = nil
		return string(line), true, nil
	}
	if errors.Is(err, io.EOF) {
		t.partial = append(t.partial, data...)
		return "", false, nil
	}
	return "", false, err
}

// recover decides where to go after the file has been quiet for a while.
// If the handle still maps to the target path the file is just idle. If it
// maps elsewhere the file was rotated: a recreated target is opened fresh,
// a missing one is waited for.
func (t *tail) recover() tailState {
	_, statErr := os.Stat(t.path)
	exists := statErr == nil

	cur, err := t.opts.Resolver.Resolve(t.f)
	if err != nil {
		// Without descriptor introspection compare identities directly.
		logging.L().Debug("tail descriptor unresolved", "path", t.path, "err", err)
		if !exists {
			logging.L().Info("tail file gone", "path", t.path, "lines", t.lineno)
			t.close()
			return seekingFile
		}
		if t.sameFile() {
			return reading
		}
		logging.L().Info("tail file replaced", "path", t.path, "lines", t.lineno)
		t.close()
		return seekingFile
	}

	if cur == t.path {
		return reading
	}
	if !exists {
		logging.L().Info("tail file gone", "path", t.path, "now", cur, "lines", t.lineno)
		t.close()
		return seekingFile
	}
	// A symlinked path resolves to its target; the handle is still current.
	if t.sameFile() {
		return reading
	}
	logging.L().Info("tail redirect", "path", t.path, "archived", cur, "lines", t.lineno)
	t.close()
	return seekingFile
}

func (t *tail) sameFile() bool {
	a, err := t.f.Stat()
	if err != nil {
		return false
	}
	b, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

func (t *tail) close() {
	if t.f != nil {
		_ = t.f.Close()
		t.f = nil
		t.r = nil
	}
	t.partial = nil
}
