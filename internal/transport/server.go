package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"streamline/broker"
	"streamline/internal/logging"
)

type Server struct {
	grpc *grpc.Server
	lis  net.Listener
}

// StartServer listens on port (0 picks one) and registers the control
// service. ctl may be nil when no broker runs; broker calls then fail
// with Unavailable.
func StartServer(port int, ctl *broker.Control) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	s := &Server{
		grpc: grpc.NewServer(),
		lis:  lis,
	}
	RegisterControlServer(s.grpc, &control{broker: ctl})
	return s, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

func (s *Server) Serve() error {
	logging.Component("control").Info("control listening", "addr", s.Addr())
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

/* ────────── service ────────── */

type control struct {
	broker *broker.Control
}

func (c *control) Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status": "ok",
		"broker": c.broker != nil,
	})
}

func (c *control) Topics(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if c.broker == nil {
		return nil, errNoBroker
	}
	names, err := c.broker.Topics(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	vals := make([]any, len(names))
	for i, n := range names {
		vals[i] = n
	}
	return structpb.NewList(vals)
}

func (c *control) TopicStatus(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "topic is required")
	}
	if c.broker == nil {
		return nil, errNoBroker
	}
	st, err := c.broker.Status(ctx, in.GetValue())
	if err != nil {
		return nil, unavailable(err)
	}
	return structpb.NewStruct(map[string]any{
		"filenum":  st.Segments,
		"filesize": st.Bytes,
		"memsize":  st.Pending,
	})
}

func (c *control) Stop(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if c.broker == nil {
		return nil, errNoBroker
	}
	if err := c.broker.Stop(ctx); err != nil {
		return nil, unavailable(err)
	}
	return &emptypb.Empty{}, nil
}

var errNoBroker = status.Error(codes.Unavailable, "no broker running")

func unavailable(err error) error {
	logging.Component("control").Warn("control call failed", "err", err, "trace_id", logging.TraceID())
	return status.Error(codes.Unavailable, err.Error())
}
