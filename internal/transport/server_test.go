package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"streamline/broker"
)

func serve(t *testing.T, ctl *broker.Control) *Client {
	t.Helper()
	srv, err := StartServer(0, ctl)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	c, err := Dial(net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestControl_ForwardsToBroker(t *testing.T) {
	b, err := broker.Listen(broker.Config{Addr: "127.0.0.1:0", Root: t.TempDir(), Poll: 10 * time.Millisecond})
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- b.Serve(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := broker.NewProducer(ctx, b.Addr())
	require.NoError(t, err)
	require.NoError(t, p.Put("clicks", []byte("a")))
	require.NoError(t, p.Put("clicks", []byte("bb")))

	c := serve(t, broker.NewControl(b.Addr()))

	pong, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", pong["status"])
	assert.Equal(t, true, pong["broker"])

	topics, err := c.Topics(ctx)
	require.NoError(t, err)
	assert.Contains(t, topics, "clicks")

	st, err := c.TopicStatus(ctx, "clicks")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"filenum": 1, "filesize": 0, "memsize": 3}, st)

	_, err = c.TopicStatus(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, c.Stop(ctx))
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("broker did not stop")
	}
	_ = p.Close()
}

func TestControl_NoBroker(t *testing.T) {
	c := serve(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pong, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, pong["broker"])

	_, err = c.Topics(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, codes.Unavailable, status.Code(c.Stop(ctx)))
}
