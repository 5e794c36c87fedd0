package engine

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/internal/transport"
)

func dialControl(t *testing.T, e *Engine) *transport.Client {
	t.Helper()
	_, port, err := net.SplitHostPort(e.ControlAddr())
	require.NoError(t, err)
	c, err := transport.Dial(net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEngine_StopOverControlEndsRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	brokerYml := filepath.Join(dir, "broker.yml")
	pipelineYml := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(brokerYml, []byte("addr: 127.0.0.1:0\nroot: "+filepath.Join(dir, "data")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(pipelineYml, []byte(`
sources:
  - type: memory
    items: [one, two]
sinks:
  - type: file
    config: {path: `+out+`}
`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := Bootstrap(ctx, Config{PipelineYml: pipelineYml, BrokerYml: brokerYml, MetricsPort: -1})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	c := dialControl(t, e)
	require.Eventually(t, func() bool { return e.Runner().Stats().Items == 2 }, 5*time.Second, 10*time.Millisecond)
	pong, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, pong["broker"])

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, <-done)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(b))
}

func TestEngine_CancelStopsControlOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, err := Bootstrap(ctx, Config{MetricsPort: 0})
	require.NoError(t, err)
	require.NotNil(t, e.metrics)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	c := dialControl(t, e)
	_, err = c.Ping(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestBootstrap_BadPipeline(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pipeline.yml")
	require.NoError(t, os.WriteFile(p, []byte("sources: [{type: nope}]"), 0o644))
	_, err := Bootstrap(context.Background(), Config{PipelineYml: p, MetricsPort: -1})
	require.ErrorContains(t, err, "pipeline")
}
