package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "streamline.v1.Control"

// ControlServer is the control plane. Messages are protobuf well-known
// types so the service needs no generated code.
type ControlServer interface {
	// Ping reports liveness and the embedded broker's address.
	Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Topics(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// TopicStatus answers {"filenum", "filesize", "memsize"} for a topic.
	TopicStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var controlDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", func() *emptypb.Empty { return new(emptypb.Empty) }, ControlServer.Ping),
		unary("Topics", func() *emptypb.Empty { return new(emptypb.Empty) }, ControlServer.Topics),
		unary("TopicStatus", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, ControlServer.TopicStatus),
		unary("Stop", func() *emptypb.Empty { return new(emptypb.Empty) }, ControlServer.Stop),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "streamline/v1/control.proto",
}

// RegisterControlServer attaches impl to s.
func RegisterControlServer(s grpc.ServiceRegistrar, impl ControlServer) {
	s.RegisterService(&controlDesc, impl)
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

func unary[Req, Resp proto.Message](
	name string,
	newReq func() Req,
	call func(ControlServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
