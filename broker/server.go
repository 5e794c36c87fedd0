package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"streamline/internal/logging"
	"streamline/internal/netaddr"
	"streamline/internal/telemetry"
)

var (
	ErrBadHandshake = errors.New("broker: bad handshake")
	ErrStopped      = errors.New("broker: stopped")
)

// Role is the handshake byte a client sends right after connecting.
type Role byte

const (
	RoleConsumer Role = '0'
	RoleProducer Role = '1'
	RoleControl  Role = '2'
)

func (r Role) String() string {
	switch r {
	case RoleConsumer:
		return "consumer"
	case RoleProducer:
		return "producer"
	case RoleControl:
		return "control"
	}
	return fmt.Sprintf("unknown(%q)", byte(r))
}

/* ────────── server ────────── */

// Server is the pub/sub broker. A single loop goroutine owns every topic
// and segment writer; connection goroutines hand it work as closures and
// do their own socket IO, so no socket operation ever blocks the loop.
type Server struct {
	cfg Config
	ln  net.Listener
	st  *store

	ops   chan func()
	quit  chan struct{}
	once  sync.Once
	err   error // first fatal error, read after quit
	conns map[*conn]struct{}

	wg sync.WaitGroup
}

type conn struct {
	net.Conn
	role Role
}

// Listen binds cfg.Addr and prepares storage. Call Serve to run it.
func Listen(cfg Config) (*Server, error) {
	applyDefaults(&cfg)
	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	network, address := netaddr.Split(cfg.Addr)
	if network == "unix" {
		_ = os.Remove(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("broker: listen %s: %w", cfg.Addr, err)
	}
	return &Server{
		cfg:   cfg,
		ln:    ln,
		st:    st,
		ops:   make(chan func()),
		quit:  make(chan struct{}),
		conns: map[*conn]struct{}{},
	}, nil
}

// Addr is the bound address, usable by clients after Listen returns.
func (s *Server) Addr() string {
	a := s.ln.Addr()
	if a.Network() == "unix" {
		return "unix:" + a.String()
	}
	return a.String()
}

// Serve runs the accept loop and the owner loop until a stop command, a
// storage failure or ctx ends. Pending data is archived before it returns.
func (s *Server) Serve(ctx context.Context) error {
	logging.L().Info("broker listening", "addr", s.Addr(), "root", s.cfg.Root)
	s.wg.Add(1)
	go s.accept()

	s.loop(ctx)

	err := s.err
	if aerr := s.st.archiveAll(); aerr != nil {
		err = errors.Join(err, aerr)
	}
	for c := range s.conns {
		if c.role == RoleControl {
			// let an in-flight reply go out; the next read fails
			_ = c.SetReadDeadline(time.Now())
			continue
		}
		_ = c.Close()
	}
	s.wg.Wait()
	err = errors.Join(err, s.st.close())
	logging.L().Info("broker stopped", "addr", s.Addr(), "err", err)
	return err
}

func (s *Server) loop(ctx context.Context) {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-ctx.Done():
			s.shutdown(nil)
			return
		case <-s.quit:
			return
		}
	}
}

// Close stops the server as the stop command does.
func (s *Server) Close() error {
	s.shutdown(nil)
	return nil
}

// shutdown closes the listener once; a non-nil err becomes Serve's result.
func (s *Server) shutdown(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.quit)
		_ = s.ln.Close()
	})
}

// do runs fn on the loop goroutine and waits for it.
func (s *Server) do(fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.ops <- func() { done <- fn() }:
		return <-done
	case <-s.quit:
		return ErrStopped
	}
}

// fatal stops the broker on storage errors; the segments on disk are left
// as they are.
func (s *Server) fatal(err error) error {
	if err != nil && !errors.Is(err, ErrBadTopic) {
		logging.L().Error("broker storage failed", "err", err, "trace_id", logging.TraceID())
		s.shutdown(err)
	}
	return err
}

/* ────────── accept & handshake ────────── */

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
			default:
				logging.L().Error("broker accept failed", "err", err)
				s.shutdown(err)
			}
			return
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	role, err := s.handshake(nc)
	if err != nil {
		logging.L().Warn("broker handshake failed", "remote", nc.RemoteAddr(), "err", err)
		_ = nc.Close()
		return
	}
	c := &conn{Conn: nc, role: role}
	if s.do(func() error { s.conns[c] = struct{}{}; return nil }) != nil {
		_ = nc.Close()
		return
	}
	telemetry.BrokerConnections.WithLabelValues(role.String()).Inc()
	logging.L().Info("broker connection", "remote", nc.RemoteAddr(), "role", role)
	defer func() {
		_ = s.do(func() error { delete(s.conns, c); return nil })
		telemetry.BrokerConnections.WithLabelValues(role.String()).Dec()
		_ = nc.Close()
	}()

	switch role {
	case RoleProducer:
		err = s.serveProducer(c)
	case RoleConsumer:
		err = s.serveConsumer(c)
	case RoleControl:
		err = s.serveControl(c)
	}
	if err != nil && !quiet(err) {
		logging.L().Warn("broker connection closed", "remote", nc.RemoteAddr(), "role", role, "err", err)
	}
}

// handshake reads the role byte, retrying a bounded number of read
// timeouts.
func (s *Server) handshake(nc net.Conn) (Role, error) {
	b := make([]byte, 1)
	for try := 0; ; try++ {
		_ = nc.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		_, err := io.ReadFull(nc, b)
		if err == nil {
			break
		}
		if errors.Is(err, os.ErrDeadlineExceeded) && try+1 < s.cfg.HandshakeRetries {
			select {
			case <-s.quit:
				return 0, ErrStopped
			default:
				continue
			}
		}
		return 0, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	_ = nc.SetReadDeadline(time.Time{})
	switch r := Role(b[0]); r {
	case RoleConsumer, RoleProducer, RoleControl:
		return r, nil
	default:
		return 0, fmt.Errorf("%w: role %q", ErrBadHandshake, b[0])
	}
}

// quiet reports errors that only mean the peer or the server went away.
func quiet(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrStopped) || errors.Is(err, os.ErrDeadlineExceeded)
}
