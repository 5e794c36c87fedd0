package stream

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"streamline/internal/logging"
	"streamline/internal/telemetry"
)

type SortOptions struct {
	Desc bool
	// MaxLen keeps only the first MaxLen items in sort order. Zero keeps all.
	MaxLen int
	// MaxSize spills the buffered run to disk once its encoded size passes
	// this many bytes. Zero never spills.
	MaxSize int
	// Dir holds spill files; empty means os.TempDir.
	Dir   string
	Codec LineCodec
}

type entry[K cmp.Ordered] struct {
	key  K
	item Item
}

type sorter[K cmp.Ordered] struct {
	key  func(Item) K
	opts SortOptions

	buf    []entry[K]
	size   int
	spills []string
}

// Sort buffers its whole input and emits it ordered by key. Large inputs
// are spilled to disk in sorted runs and merged on the way out, so memory
// stays bounded by MaxSize.
func Sort[K cmp.Ordered](key func(Item) K, opts SortOptions, stageOpts ...Option) *Stage {
	if opts.Codec == nil {
		opts.Codec = StringCodec{}
	}
	return newStage("sort", &sorter[K]{key: key, opts: opts}, stageOpts)
}

// before reports whether a sorts strictly before b.
func (s *sorter[K]) before(a, b K) bool {
	if s.opts.Desc {
		return a > b
	}
	return a < b
}

// insert places it after every entry with an equal key, keeping input order
// among equals.
func (s *sorter[K]) insert(it Item) error {
	k := s.key(it)
	i := sort.Search(len(s.buf), func(i int) bool { return s.before(k, s.buf[i].key) })
	s.buf = append(s.buf, entry[K]{})
	copy(s.buf[i+1:], s.buf[i:])
	s.buf[i] = entry[K]{key: k, item: it}

	if s.opts.MaxLen > 0 && len(s.buf) > s.opts.MaxLen {
		s.buf = s.buf[:s.opts.MaxLen]
	}
	if s.opts.MaxSize <= 0 {
		return nil
	}
	line, err := s.opts.Codec.Encode(it)
	if err != nil {
		return err
	}
	s.size += len(line) + 1
	if s.size > s.opts.MaxSize {
		return s.spill()
	}
	return nil
}

func (s *sorter[K]) spill() error {
	f, err := os.CreateTemp(s.opts.Dir, "streamline-sort-*")
	if err != nil {
		return fmt.Errorf("sort: spill: %w", err)
	}
	s.spills = append(s.spills, f.Name())
	w := bufio.NewWriter(f)
	for _, e := range s.buf {
		line, err := s.opts.Codec.Encode(e.item)
		if err != nil {
			_ = f.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sort: spill: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sort: spill: %w", err)
	}
	telemetry.SortSpills.Inc()
	logging.L().Debug("sort run spilled", "path", f.Name(), "items", len(s.buf))
	s.buf = nil
	s.size = 0
	return nil
}

func (s *sorter[K]) cleanup() {
	for _, p := range s.spills {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.L().Warn("sort spill cleanup failed", "path", p, "err", err)
		}
	}
	s.spills = nil
}

func (s *sorter[K]) Transform(ctx context.Context, in Seq, downstream bool) Seq {
	return func(yield func(Event, error) bool) {
		defer s.cleanup()
		for ev, err := range in {
			if err != nil {
				yield(Event{}, err)
				return
			}
			switch ev.Signal {
			case Skip:
				continue
			case Idle:
				if downstream && !yield(ev, nil) {
					return
				}
				continue
			}
			if err := s.insert(ev.Item); err != nil {
				yield(Event{}, err)
				return
			}
		}
		s.merge(yield)
	}
}

/*──────── k-way merge ───────*/

type cursor[K cmp.Ordered] struct {
	head entry[K]
	next func() (entry[K], bool, error)
	done func()
}

func (s *sorter[K]) merge(yield func(Event, error) bool) {
	var cursors []*cursor[K]
	defer func() {
		for _, c := range cursors {
			c.done()
		}
	}()

	for _, p := range s.spills {
		c, err := s.fileCursor(p)
		if err != nil {
			yield(Event{}, err)
			return
		}
		if c != nil {
			cursors = append(cursors, c)
		}
	}
	if len(s.buf) > 0 {
		mem := s.buf
		s.buf = nil
		i := 0
		cursors = append(cursors, &cursor[K]{
			head: mem[0],
			next: func() (entry[K], bool, error) {
				i++
				if i >= len(mem) {
					return entry[K]{}, false, nil
				}
				return mem[i], true, nil
			},
			done: func() {},
		})
	}

	for len(cursors) > 0 {
		best := 0
		for i := 1; i < len(cursors); i++ {
			if s.before(cursors[i].head.key, cursors[best].head.key) {
				best = i
			}
		}
		c := cursors[best]
		if !yield(Of(c.head.item), nil) {
			return
		}
		e, ok, err := c.next()
		if err != nil {
			yield(Event{}, err)
			return
		}
		if ok {
			c.head = e
			continue
		}
		c.done()
		cursors = append(cursors[:best], cursors[best+1:]...)
	}
}

// fileCursor opens a spilled run; it returns nil for an empty one.
func (s *sorter[K]) fileCursor(path string) (*cursor[K], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sort: open run: %w", err)
	}
	r := bufio.NewReader(f)
	next := func() (entry[K], bool, error) {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return entry[K]{}, false, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return entry[K]{}, false, err
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		it, err := s.opts.Codec.Decode(line)
		if err != nil {
			return entry[K]{}, false, fmt.Errorf("sort: decode run %s: %w", path, err)
		}
		return entry[K]{key: s.key(it), item: it}, true, nil
	}
	head, ok, err := next()
	if err != nil || !ok {
		_ = f.Close()
		return nil, err
	}
	return &cursor[K]{head: head, next: next, done: func() { _ = f.Close() }}, nil
}
