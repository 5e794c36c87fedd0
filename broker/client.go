package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"streamline/internal/netaddr"
	"streamline/sink"
	"streamline/stream"
)

func dial(ctx context.Context, addr string, role Role) (net.Conn, error) {
	network, address := netaddr.Split(addr)
	var d net.Dialer
	c, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", addr, err)
	}
	if _, err := c.Write([]byte{byte(role)}); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

/* ────────── producer ────────── */

// Message routes a payload to a topic when it goes through Publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Producer publishes lines over one connection, waiting for each ack.
type Producer struct {
	c net.Conn
	r *bufio.Reader
}

func NewProducer(ctx context.Context, addr string) (*Producer, error) {
	c, err := dial(ctx, addr, RoleProducer)
	if err != nil {
		return nil, err
	}
	return &Producer{c: c, r: bufio.NewReader(c)}, nil
}

func (p *Producer) Put(topic string, payload []byte) error {
	if err := validTopic(topic); err != nil {
		return err
	}
	if bytes.IndexByte(payload, '\n') >= 0 {
		return fmt.Errorf("%w: payload contains a newline", ErrBadRequest)
	}
	line := make([]byte, 0, len(topic)+len(payload)+2)
	line = append(append(append(append(line, topic...), ','), payload...), '\n')
	if _, err := p.c.Write(line); err != nil {
		return err
	}
	ack, err := p.r.ReadString('\n')
	if err != nil {
		return err
	}
	if ack = strings.TrimSpace(ack); ack != "200" {
		return fmt.Errorf("broker: unexpected ack %q", ack)
	}
	return nil
}

func (p *Producer) Close() error { return p.c.Close() }

// Publish is a terminal stage that puts every item on the broker. A
// Message picks its own topic; anything else goes to topic, encoded the
// way sinks encode.
func Publish(p *Producer, topic string, opts ...stream.Option) *stream.Stage {
	return stream.New(stream.HandlerFunc(func(_ context.Context, item stream.Item) (stream.Item, error) {
		if m, ok := item.(Message); ok {
			return nil, p.Put(m.Topic, m.Payload)
		}
		b, err := sink.Encode(item)
		if err != nil {
			return nil, err
		}
		return nil, p.Put(topic, b)
	}), append([]stream.Option{stream.WithName("publish:" + topic)}, opts...)...)
}

/* ────────── consumer ────────── */

// Cursor addresses a record: segment number and byte offset in it.
type Cursor struct {
	Segment int
	Offset  int64
}

// Record is one consumed payload. Next is where to resume after it.
type Record struct {
	Topic   string
	Payload string
	At      Cursor
	Next    Cursor
}

type ConsumerOptions struct {
	// From resumes at a cursor; nil reads the topic from its first segment.
	From *Cursor
	// Wait is how long to wait for data before yielding Idle.
	Wait time.Duration
}

type consumerSource struct {
	addr  string
	topic string
	opts  ConsumerOptions
}

// Consume is a source of Records for topic. It follows the topic live and
// ends only when the broker closes the connection.
func Consume(addr, topic string, opts ConsumerOptions) (*stream.Stage, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	if opts.Wait <= 0 {
		opts.Wait = time.Second
	}
	src := &consumerSource{addr: addr, topic: topic, opts: opts}
	return stream.NewSource(src, stream.WithName("consume:"+topic)), nil
}

func (s *consumerSource) request() ([]byte, error) {
	req := consumeRequest{Topic: s.topic}
	if from := s.opts.From; from != nil {
		req.Number, req.Offset = &from.Segment, &from.Offset
	}
	b, err := json.Marshal(req)
	return append(b, '\n'), err
}

func (s *consumerSource) Events(ctx context.Context) stream.Seq {
	return func(yield func(stream.Event, error) bool) {
		req, err := s.request()
		if err != nil {
			yield(stream.Event{}, err)
			return
		}
		c, err := dial(ctx, s.addr, RoleConsumer)
		if err != nil {
			yield(stream.Event{}, err)
			return
		}
		defer c.Close()
		if _, err := c.Write(req); err != nil {
			yield(stream.Event{}, err)
			return
		}

		buf := make([]byte, 32<<10)
		var pending []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(stream.Event{}, err)
				return
			}
			_ = c.SetReadDeadline(time.Now().Add(s.opts.Wait))
			n, err := c.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				for {
					i := bytes.IndexByte(pending, '\n')
					if i < 0 {
						break
					}
					line := string(pending[:i])
					pending = pending[i+1:]
					if line == "" {
						continue // request ack
					}
					rec, err := parseRecord(s.topic, line)
					if err != nil {
						yield(stream.Event{}, err)
						return
					}
					if !yield(stream.Of(rec), nil) {
						return
					}
				}
				pending = append([]byte(nil), pending...)
			}
			switch {
			case err == nil:
			case errors.Is(err, os.ErrDeadlineExceeded):
				if !yield(stream.SignalEvent(stream.Idle), nil) {
					return
				}
			case errors.Is(err, io.EOF):
				return
			default:
				yield(stream.Event{}, fmt.Errorf("broker consume %s: %w", s.topic, err))
				return
			}
		}
	}
}

// parseRecord splits a `segment#offset#payload` line.
func parseRecord(topic, line string) (Record, error) {
	parts := strings.SplitN(line, "#", 3)
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: record %q", ErrBadRequest, line)
	}
	seg, err := strconv.Atoi(parts[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: segment %q", ErrBadRequest, parts[0])
	}
	off, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: offset %q", ErrBadRequest, parts[1])
	}
	at := Cursor{Segment: seg, Offset: off}
	return Record{
		Topic:   topic,
		Payload: parts[2],
		At:      at,
		Next:    Cursor{Segment: seg, Offset: off + int64(len(line)) + 1},
	}, nil
}

/* ────────── control ────────── */

// Control issues control commands, one connection per command.
type Control struct {
	addr string
}

func NewControl(addr string) *Control { return &Control{addr: addr} }

func (c *Control) call(ctx context.Context, cmd string) (string, error) {
	conn, err := dial(ctx, c.addr, RoleControl)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		return "", err
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("broker control %q: %w", cmd, err)
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

func (c *Control) Topics(ctx context.Context) ([]string, error) {
	res, err := c.call(ctx, "topics")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(res), &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Control) Status(ctx context.Context, topic string) (Status, error) {
	var st Status
	res, err := c.call(ctx, "topic "+topic)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal([]byte(res), &st)
	return st, err
}

// Stop archives every topic and shuts the broker down.
func (c *Control) Stop(ctx context.Context) error {
	res, err := c.call(ctx, "stop")
	if err != nil {
		return err
	}
	if res != "true" {
		return fmt.Errorf("broker: stop replied %q", res)
	}
	return nil
}

// Raw sends any command and returns the reply line.
func (c *Control) Raw(ctx context.Context, cmd string) (string, error) {
	return c.call(ctx, cmd)
}
