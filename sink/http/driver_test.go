package http

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"streamline/sink"
)

type recorded struct {
	method, query, body, ctype string
}

func serve(t *testing.T) (*fasthttp.Client, func() []recorded) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	var (
		mu  sync.Mutex
		got []recorded
	)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		mu.Lock()
		got = append(got, recorded{
			method: string(ctx.Method()),
			query:  string(ctx.QueryArgs().QueryString()),
			body:   string(ctx.PostBody()),
			ctype:  string(ctx.Request.Header.ContentType()),
		})
		mu.Unlock()
		if string(ctx.QueryArgs().Peek("fail")) == "1" {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
		}
	}}
	go srv.Serve(ln)
	t.Cleanup(func() { _ = ln.Close() })

	c := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return c, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), got...)
	}
}

func TestPostJSON(t *testing.T) {
	c, got := serve(t)
	d := &driver{}
	require.NoError(t, d.Configure(Config{
		URL:     "http://sink.local/ingest",
		Method:  "post",
		Headers: map[string]string{"Content-Type": "application/json"},
		Client:  c,
	}))

	require.NoError(t, d.Emit(context.Background(), map[string]any{"a": 1}))
	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].method)
	assert.JSONEq(t, `{"a":1}`, reqs[0].body)
	assert.Equal(t, "application/json", reqs[0].ctype)
}

func TestGetQueryArgsAndPartialFailure(t *testing.T) {
	c, got := serve(t)
	d := &driver{}
	require.NoError(t, d.Configure(Config{URL: "http://sink.local/hit", Client: c}))

	err := d.EmitMany(context.Background(), []any{
		map[string]any{"user": "u1"},
		map[string]any{"fail": "1"},
		"not a record",
	})
	var pe *sink.PartialError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Failed, 2)
	assert.Contains(t, pe.Failed, 1)
	assert.Contains(t, pe.Failed, 2)

	reqs := got()
	require.Len(t, reqs, 2)
	assert.Equal(t, "user=u1", reqs[0].query)
	require.NoError(t, d.Close())
}

func TestConfigure_Validation(t *testing.T) {
	require.Error(t, (&driver{}).Configure(Config{}))
	require.Error(t, (&driver{}).Configure(Config{URL: "http://x", Method: "DELETE"}))
}
