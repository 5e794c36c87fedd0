package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/sink"
)

type fakeConn struct {
	subject []string
	data    []string
	reject  string
	flushes int
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if string(data) == f.reject {
		return errors.New("nats: maximum payload exceeded")
	}
	f.subject = append(f.subject, subject)
	f.data = append(f.data, string(data))
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error { f.flushes++; return nil }
func (f *fakeConn) Drain() error                     { f.drained = true; return nil }

func TestEmitMany_PublishesAndFlushesOnce(t *testing.T) {
	nc := &fakeConn{reject: "big"}
	d := &driver{cfg: Config{Subject: "logs.app", Timeout: time.Second}, nc: nc}

	err := d.EmitMany(context.Background(), []any{"a", "big", map[string]any{"n": 1}})
	var pe *sink.PartialError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Failed, 1)
	assert.Equal(t, []string{"a", `{"n":1}`}, nc.data)
	assert.Equal(t, []string{"logs.app", "logs.app"}, nc.subject)
	assert.Equal(t, 1, nc.flushes)

	require.NoError(t, d.Close())
	assert.True(t, nc.drained)
}

func TestConfigure_RequiresSubject(t *testing.T) {
	require.Error(t, (&driver{}).Configure(Config{}))
}
