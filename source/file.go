package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"streamline/internal/dedup"
	"streamline/internal/logging"
	"streamline/stream"
)

type FileOptions struct {
	// Filter records fully read files. Nil keeps the record in memory for
	// the life of the source.
	Filter dedup.Filter
	// FileWait keeps polling the pattern for new files at this interval.
	// Zero stops once no unseen file matches.
	FileWait time.Duration
	// ConfirmWait re-checks a file for growth at this interval after
	// reaching its end, and only treats the file as finished once it stopped
	// growing.
	ConfirmWait time.Duration
}

// fetchFunc emits the records of one open file. It returns false when the
// consumer stopped.
type fetchFunc func(ctx context.Context, f *os.File, yield func(stream.Event, error) bool) (bool, error)

type fileSource struct {
	pattern string
	opts    FileOptions
	fetch   fetchFunc
}

// File reads every file matching a glob pattern, one after another in name
// order, emitting lines without their newline. A file is recorded in the
// filter only after it was read to the end, so a run that stops half way
// re-reads that file next time and never reads a finished one twice.
func File(pattern string, opts FileOptions) (*stream.Stage, error) {
	s, err := newFileSource(pattern, opts)
	if err != nil {
		return nil, err
	}
	s.fetch = s.fetchLines
	return stream.NewSource(s, stream.WithName("file")), nil
}

// Csv is File for CSV documents; it emits each record as a []string.
func Csv(pattern string, opts FileOptions, configure func(*csv.Reader)) (*stream.Stage, error) {
	s, err := newFileSource(pattern, opts)
	if err != nil {
		return nil, err
	}
	s.fetch = func(ctx context.Context, f *os.File, yield func(stream.Event, error) bool) (bool, error) {
		r := csv.NewReader(f)
		if configure != nil {
			configure(r)
		}
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			if err != nil {
				return true, err
			}
			if !yield(stream.Of(rec), nil) {
				return false, nil
			}
		}
	}
	return stream.NewSource(s, stream.WithName("csv")), nil
}

func newFileSource(pattern string, opts FileOptions) (*fileSource, error) {
	abs, err := filepath.Abs(pattern)
	if err != nil {
		return nil, err
	}
	if _, err := filepath.Match(abs, ""); err != nil {
		return nil, fmt.Errorf("file: pattern %q: %w", pattern, err)
	}
	if opts.Filter == nil {
		opts.Filter, err = dedup.New("bloom", "", dedup.Options{})
		if err != nil {
			return nil, err
		}
	}
	return &fileSource{pattern: abs, opts: opts}, nil
}

// pending lists unrecorded matches, leaving out files that already failed
// in this run; those are retried on the next run.
func (s *fileSource) pending(failed map[string]bool) ([]string, error) {
	matches, err := filepath.Glob(s.pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if !failed[m] && !s.opts.Filter.Contains(m) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fileSource) Events(ctx context.Context) stream.Seq {
	return func(yield func(stream.Event, error) bool) {
		pacer := stream.NewPacer(s.opts.FileWait)
		failed := map[string]bool{}
		for {
			if err := ctx.Err(); err != nil {
				yield(stream.Event{}, err)
				return
			}
			files, err := s.pending(failed)
			if err != nil {
				yield(stream.Event{}, err)
				return
			}
			if len(files) == 0 {
				if s.opts.FileWait <= 0 {
					return
				}
				if !pacer.Idle(ctx, yield) {
					return
				}
				continue
			}
			logging.L().Info("file source found files", "pattern", s.pattern, "files", files)
			for _, name := range files {
				if !s.dump(ctx, name, failed, yield) {
					return
				}
			}
		}
	}
}

// dump reads one file and records it when it was read to the end. A file
// that cannot be read goes into failed.
func (s *fileSource) dump(ctx context.Context, name string, failed map[string]bool, yield func(stream.Event, error) bool) bool {
	f, err := os.Open(name)
	if err != nil {
		logging.L().Error("file source open failed", "path", name, "err", err)
		failed[name] = true
		return true
	}
	defer f.Close()

	logging.L().Info("file source dumping", "path", name)
	more, err := s.fetch(ctx, f, yield)
	if !more {
		return false
	}
	if err != nil {
		logging.L().Error("file source dump failed", "path", name, "err", err)
		failed[name] = true
		return true
	}
	if err := s.opts.Filter.Add(name); err != nil {
		yield(stream.Event{}, fmt.Errorf("file: record %s: %w", name, err))
		return false
	}
	logging.L().Info("file source dumped", "path", name)
	return true
}

func (s *fileSource) fetchLines(ctx context.Context, f *os.File, yield func(stream.Event, error) bool) (bool, error) {
	r := bufio.NewReader(f)
	pacer := stream.NewPacer(s.opts.ConfirmWait)
	var partial []byte
	for {
		data, err := r.ReadBytes('\n')
		if err == nil {
			line := append(partial, data[:len(data)-1]...)
			partial = nil
			if !yield(stream.Of(string(line)), nil) {
				return false, nil
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			return true, err
		}
		partial = append(partial, data...)

		if s.opts.ConfirmWait > 0 {
			before, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return true, err
			}
			if !pacer.Idle(ctx, yield) {
				return false, nil
			}
			fi, err := f.Stat()
			if err != nil {
				return true, err
			}
			if fi.Size() > before {
				continue
			}
		}
		if len(partial) > 0 {
			if !yield(stream.Of(string(partial)), nil) {
				return false, nil
			}
		}
		return true, nil
	}
}
