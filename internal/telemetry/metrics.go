package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamline/internal/logging"
)

var (
	StageItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamline_stage_items_total",
		Help: "Items handled by a pipeline stage.",
	}, []string{"stage"})
	StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamline_stage_errors_total",
		Help: "Items whose handling failed in a pipeline stage.",
	}, []string{"stage"})
	SinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamline_sink_failures_total",
		Help: "Items a sink reported as not delivered.",
	}, []string{"sink"})
	SortSpills = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamline_sort_spills_total",
		Help: "Sorted runs spilled to disk.",
	})

	BrokerPuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamline_broker_puts_total",
		Help: "Records accepted from producers.",
	}, []string{"topic"})
	BrokerArchivedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamline_broker_archived_bytes_total",
		Help: "Bytes written to topic segment files.",
	}, []string{"topic"})
	BrokerSentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamline_broker_sent_bytes_total",
		Help: "Segment bytes streamed to consumers.",
	})
	BrokerConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamline_broker_connections",
		Help: "Open broker connections by role.",
	}, []string{"role"})
)

func init() {
	prometheus.MustRegister(
		StageItems, StageErrors, SinkFailures, SortSpills,
		BrokerPuts, BrokerArchivedBytes, BrokerSentBytes, BrokerConnections,
	)
}

// Server serves /metrics until Close.
type Server struct {
	srv *http.Server
	lis net.Listener
}

func Expose(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Handler: mux}, lis: lis}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics server stopped", "err", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

func (s *Server) Close() error { return s.srv.Close() }
