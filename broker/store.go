package broker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"streamline/internal/logging"
	"streamline/internal/telemetry"
)

var ErrBadTopic = errors.New("broker: bad topic name")

// Status describes one topic for the control path.
type Status struct {
	Segments int   `json:"filenum"`
	Bytes    int64 `json:"filesize"`
	Pending  int   `json:"memsize"`
}

// topic is the writable end of one topic. Only the server loop touches it.
type topic struct {
	name string
	dir  string

	pending     [][]byte
	pendingSize int

	seg  int
	f    *os.File
	size int64
}

// store owns every topic and its segment files.
type store struct {
	root        string
	maxPending  int
	archiveSize int64
	topics      map[string]*topic
}

func newStore(cfg Config) (*store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("broker: storage root: %w", err)
	}
	return &store{
		root:        cfg.Root,
		maxPending:  cfg.MaxPending,
		archiveSize: cfg.ArchiveSize,
		topics:      map[string]*topic{},
	}, nil
}

func validTopic(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\,\n") {
		return fmt.Errorf("%w: %q", ErrBadTopic, name)
	}
	return nil
}

// topic returns the named topic, creating its directory and an empty
// segment 0 the first time it is touched.
func (s *store) topic(name string) (*topic, error) {
	if t, ok := s.topics[name]; ok {
		return t, nil
	}
	if err := validTopic(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	cur := 0
	if len(segs) > 0 {
		cur = segs[len(segs)-1]
	}
	t := &topic{name: name, dir: dir}
	if err := t.open(cur); err != nil {
		return nil, err
	}
	s.topics[name] = t
	return t, nil
}

func (t *topic) open(seg int) error {
	f, err := os.OpenFile(filepath.Join(t.dir, strconv.Itoa(seg)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if t.f != nil {
		_ = t.f.Close()
	}
	t.seg, t.f, t.size = seg, f, st.Size()
	return nil
}

// put buffers payload and archives once the buffer reaches maxPending.
func (s *store) put(name string, payload []byte) error {
	t, err := s.topic(name)
	if err != nil {
		return err
	}
	t.pending = append(t.pending, payload)
	t.pendingSize += len(payload)
	telemetry.BrokerPuts.WithLabelValues(name).Inc()
	if t.pendingSize >= s.maxPending {
		return s.archive(t)
	}
	return nil
}

// archive writes the pending buffer to the current segment as
// `segment#offset#payload` lines, rotating first when the buffer would
// push a non-empty segment past archiveSize.
func (s *store) archive(t *topic) error {
	if len(t.pending) == 0 {
		return nil
	}
	if t.size > 0 && t.size+int64(t.pendingSize) > s.archiveSize {
		if err := t.open(t.seg + 1); err != nil {
			return fmt.Errorf("broker: rotate %s: %w", t.name, err)
		}
		logging.L().Info("segment rotated", "topic", t.name, "segment", t.seg)
	}

	w := bufio.NewWriter(t.f)
	start := t.size
	prefix := strconv.Itoa(t.seg) + "#"
	for _, p := range t.pending {
		n, _ := fmt.Fprintf(w, "%s%d#%s\n", prefix, t.size, p)
		t.size += int64(n)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("broker: archive %s: %w", t.name, err)
	}
	telemetry.BrokerArchivedBytes.WithLabelValues(t.name).Add(float64(t.size - start))
	logging.L().Debug("topic archived", "topic", t.name, "segment", t.seg,
		"items", len(t.pending), "bytes", t.size-start)
	t.pending, t.pendingSize = nil, 0
	return nil
}

func (s *store) archiveAll() error {
	var errs *multierror.Error
	for _, t := range s.topics {
		errs = multierror.Append(errs, s.archive(t))
	}
	return errs.ErrorOrNil()
}

// pending reports whether name has data not yet written to a segment.
func (s *store) pending(name string) bool {
	t, ok := s.topics[name]
	return ok && len(t.pending) > 0
}

// names lists topics known in memory or on disk.
func (s *store) names() ([]string, error) {
	seen := map[string]bool{}
	for n := range s.topics {
		seen[n] = true
	}
	ents, err := os.ReadDir(s.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range ents {
		if e.IsDir() {
			seen[e.Name()] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.Sort(out)
	return out, nil
}

func (s *store) status(name string) (Status, error) {
	var st Status
	if t, ok := s.topics[name]; ok {
		st.Pending = t.pendingSize
	}
	if validTopic(name) != nil {
		return st, nil
	}
	dir := filepath.Join(s.root, name)
	segs, err := listSegments(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Segments = len(segs)
	for _, n := range segs {
		fi, err := os.Stat(filepath.Join(dir, strconv.Itoa(n)))
		if err != nil {
			return st, err
		}
		st.Bytes += fi.Size()
	}
	return st, nil
}

// segmentSize returns the committed size of a segment, or -1 when it does
// not exist.
func (s *store) segmentSize(name string, seg int) (int64, error) {
	fi, err := os.Stat(filepath.Join(s.root, name, strconv.Itoa(seg)))
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// nextSegment returns the lowest segment number above after, or -1.
func (s *store) nextSegment(name string, after int) (int, error) {
	segs, err := listSegments(filepath.Join(s.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	for _, n := range segs {
		if n > after {
			return n, nil
		}
	}
	return -1, nil
}

func (s *store) close() error {
	var errs *multierror.Error
	for _, t := range s.topics {
		if t.f != nil {
			errs = multierror.Append(errs, t.f.Close())
			t.f = nil
		}
	}
	return errs.ErrorOrNil()
}

// listSegments returns the numeric segment names in dir, ascending.
func listSegments(dir string) ([]int, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []int
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			continue
		}
		segs = append(segs, n)
	}
	slices.Sort(segs)
	return segs, nil
}
