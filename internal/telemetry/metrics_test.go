package telemetry

import (
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpose_ServesRegisteredMetrics(t *testing.T) {
	s, err := Expose(0)
	require.NoError(t, err)
	defer s.Close()

	before := testutil.ToFloat64(BrokerPuts.WithLabelValues("expose-test"))
	BrokerPuts.WithLabelValues("expose-test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BrokerPuts.WithLabelValues("expose-test")))

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `streamline_broker_puts_total{topic="expose-test"}`)
}
