package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"streamline/internal/netaddr"
	"streamline/stream"
)

type socketSource struct {
	addr string
	wait time.Duration
}

// Socket dials addr ("host:port", "unix:/path" or "/path") and emits each
// newline-terminated line it receives. It yields Idle while the peer is
// quiet and ends when the peer closes; an unfinished last line is dropped.
func Socket(addr string, wait time.Duration) *stream.Stage {
	if wait <= 0 {
		wait = time.Second
	}
	return stream.NewSource(&socketSource{addr: addr, wait: wait}, stream.WithName("socket"))
}

func (s *socketSource) Events(ctx context.Context) stream.Seq {
	return func(yield func(stream.Event, error) bool) {
		network, address := netaddr.Split(s.addr)
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			yield(stream.Event{}, fmt.Errorf("socket %s: %w", s.addr, err))
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		var pending []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(stream.Event{}, err)
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.wait))
			n, err := conn.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				var lines [][]byte
				lines, pending = splitLines(pending)
				for _, l := range lines {
					if !yield(stream.Of(string(l)), nil) {
						return
					}
				}
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
				yield(stream.Event{}, fmt.Errorf("socket %s: %w", s.addr, err))
				return
			}
		}
	}
}

// splitLines cuts every complete line off buf and returns the rest.
func splitLines(buf []byte) ([][]byte, []byte) {
	i := bytes.LastIndexByte(buf, '\n')
	if i < 0 {
		return nil, buf
	}
	var lines [][]byte
	for _, l := range bytes.Split(buf[:i], []byte{'\n'}) {
		if len(l) > 0 {
			lines = append(lines, l)
		}
	}
	rest := append([]byte(nil), buf[i+1:]...)
	return lines, rest
}
