package broker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"streamline/internal/logging"
	"streamline/internal/telemetry"
)

var ErrBadRequest = errors.New("broker: bad request")

/* ────────── producer ────────── */

// serveProducer stores every `topic,payload` line and acknowledges it
// with "200". Replies are flushed whenever no complete line is waiting.
func (s *Server) serveProducer(c *conn) error {
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}
		name, payload, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("%w: producer line has no topic", ErrBadRequest)
		}
		p := []byte(payload)
		if err := s.do(func() error { return s.fatal(s.st.put(name, p)) }); err != nil {
			return err
		}
		if _, err := w.WriteString("200\n"); err != nil {
			return err
		}
		if !lineBuffered(r) {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func lineBuffered(r *bufio.Reader) bool {
	b, _ := r.Peek(r.Buffered())
	return bytes.IndexByte(b, '\n') >= 0
}

/* ────────── control ────────── */

func (s *Server) serveControl(c *conn) error {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		reply, err := s.control(cmd)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(c, reply+"\n"); err != nil {
			return err
		}
	}
}

// control answers one command. It only reads state or flushes it.
func (s *Server) control(cmd string) (string, error) {
	lower := strings.ToLower(cmd)
	switch {
	case lower == "topics":
		var names []string
		err := s.do(func() (err error) { names, err = s.st.names(); return })
		if err != nil {
			return "", err
		}
		return marshal(names)

	case strings.HasPrefix(lower, "topic "):
		name := strings.TrimSpace(cmd[len("topic "):])
		var st Status
		err := s.do(func() (err error) { st, err = s.st.status(name); return })
		if err != nil {
			return "", err
		}
		return marshal(st)

	case lower == "stop":
		err := s.do(func() error {
			err := s.st.archiveAll()
			for c := range s.conns {
				if c.role == RoleProducer {
					_ = c.Close()
				}
			}
			if err != nil {
				return s.fatal(err)
			}
			s.shutdown(nil)
			return nil
		})
		if err != nil {
			return "", err
		}
		logging.L().Info("broker stop requested")
		return "true", nil
	}
	return "null", nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

/* ────────── consumer ────────── */

// consumeRequest binds a consumer to a topic and optionally to a segment
// and byte offset inside it.
type consumeRequest struct {
	Topic  string `json:"topic"`
	Number *int   `json:"number,omitempty"`
	Offset *int64 `json:"offset,omitempty"`
}

// cursor is a consumer's read position. seg is -1 until the first
// segment is opened; limit is the committed size the loop last reported.
type cursor struct {
	root  string
	topic string
	seg   int
	f     *os.File
	off   int64
	limit int64
}

func (cur *cursor) reset(topic string) {
	cur.close()
	cur.topic, cur.seg, cur.off, cur.limit = topic, -1, 0, 0
}

func (cur *cursor) use(seg int) error {
	f, err := os.Open(filepath.Join(cur.root, cur.topic, strconv.Itoa(seg)))
	if err != nil {
		return err
	}
	cur.close()
	cur.f, cur.seg, cur.off, cur.limit = f, seg, 0, 0
	return nil
}

func (cur *cursor) close() {
	if cur.f != nil {
		_ = cur.f.Close()
		cur.f = nil
	}
}

func (cur *cursor) apply(req consumeRequest) error {
	if req.Topic != cur.topic {
		cur.reset(req.Topic)
	}
	if req.Number != nil {
		if err := cur.use(*req.Number); err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	if req.Offset != nil {
		if cur.f == nil {
			return fmt.Errorf("%w: offset without a segment", ErrBadRequest)
		}
		cur.off = *req.Offset
	}
	return nil
}

// serveConsumer streams segment bytes to the peer. A reader goroutine
// decodes request lines; this goroutine owns the cursor and every write.
func (s *Server) serveConsumer(c *conn) error {
	in := make(chan consumeRequest)
	done := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- readRequests(c, in, done)
		close(in)
	}()
	defer func() {
		close(done)
		_ = c.Close()
		for range in {
		}
	}()

	cur := &cursor{root: s.cfg.Root, seg: -1}
	defer cur.close()

	accept := func(req consumeRequest, ok bool) error {
		if !ok {
			return <-errc
		}
		// Subscribing creates the topic like a first put does.
		if req.Topic != cur.topic {
			err := s.do(func() error {
				_, err := s.st.topic(req.Topic)
				return s.fatal(err)
			})
			if err != nil {
				return err
			}
		}
		if err := cur.apply(req); err != nil {
			return err
		}
		_, err := io.WriteString(c, "\n")
		return err
	}

	for {
		if cur.topic == "" {
			select {
			case req, ok := <-in:
				if err := accept(req, ok); err != nil {
					return err
				}
			case <-s.quit:
				return ErrStopped
			}
			continue
		}

		select {
		case req, ok := <-in:
			if err := accept(req, ok); err != nil {
				return err
			}
			continue
		default:
		}

		sent, err := s.transmit(c, cur)
		if err != nil {
			return err
		}
		if sent {
			continue
		}
		t := time.NewTimer(s.cfg.Poll)
		select {
		case req, ok := <-in:
			t.Stop()
			if err := accept(req, ok); err != nil {
				return err
			}
		case <-t.C:
		case <-s.quit:
			t.Stop()
			return ErrStopped
		}
	}
}

func readRequests(c *conn, out chan<- consumeRequest, done <-chan struct{}) error {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var req consumeRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		if err := validTopic(req.Topic); err != nil {
			return err
		}
		select {
		case out <- req:
		case <-done:
			return nil
		}
	}
}

// transmit sends whatever committed bytes the cursor has not sent yet,
// asking the loop where the data is when the open segment is exhausted.
// It reports whether anything was sent.
func (s *Server) transmit(c *conn, cur *cursor) (bool, error) {
	if cur.f == nil || cur.limit <= cur.off {
		var (
			seg   int
			limit int64
		)
		err := s.do(func() (err error) {
			seg, limit, err = s.probe(cur.topic, cur.seg, cur.off)
			return s.fatal(err)
		})
		if err != nil {
			return false, err
		}
		if seg < 0 {
			return false, nil
		}
		if seg != cur.seg {
			if err := cur.use(seg); err != nil {
				return false, err
			}
		}
		cur.limit = limit
		if cur.limit <= cur.off {
			return false, nil
		}
	}

	if _, err := cur.f.Seek(cur.off, io.SeekStart); err != nil {
		return false, err
	}
	n, err := io.Copy(c.Conn, io.LimitReader(cur.f, cur.limit-cur.off))
	cur.off += n
	telemetry.BrokerSentBytes.Add(float64(n))
	return n > 0, err
}

// probe runs on the loop. It returns the segment the consumer should read
// next with its committed size, or -1 when nothing is ready. With no
// readable bytes left it archives the topic's pending data and looks again.
func (s *Server) probe(topic string, seg int, off int64) (int, int64, error) {
	for archived := false; ; archived = true {
		if seg >= 0 {
			size, err := s.st.segmentSize(topic, seg)
			if err != nil {
				return -1, 0, err
			}
			if size > off {
				return seg, size, nil
			}
		}
		next, err := s.st.nextSegment(topic, seg)
		if err != nil {
			return -1, 0, err
		}
		if next >= 0 {
			size, err := s.st.segmentSize(topic, next)
			if err != nil {
				return -1, 0, err
			}
			return next, max(size, 0), nil
		}
		if archived || !s.st.pending(topic) {
			return -1, 0, nil
		}
		if err := s.st.archive(s.st.topics[topic]); err != nil {
			return -1, 0, err
		}
	}
}
