package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the control service.
type Client struct {
	cc *grpc.ClientConn
}

func Dial(addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) Ping(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Ping"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Topics(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod("Topics"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

// TopicStatus returns filenum, filesize and memsize for topic.
func (c *Client) TopicStatus(ctx context.Context, topic string) (map[string]float64, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("TopicStatus"), wrapperspb.String(topic), out); err != nil {
		return nil, err
	}
	res := make(map[string]float64, len(out.GetFields()))
	for k, v := range out.GetFields() {
		res[k] = v.GetNumberValue()
	}
	return res, nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.cc.Invoke(ctx, fullMethod("Stop"), &emptypb.Empty{}, new(emptypb.Empty))
}
