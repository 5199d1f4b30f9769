package observability

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsServer_ServesRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stormfell",
		Subsystem: "transport",
		Name:      "test_events_total",
		Help:      "Test counter.",
	})
	require.NoError(t, reg.Register(counter))
	counter.Add(3)

	srv := NewMetricsServer("127.0.0.1:0", reg, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stormfell_transport_test_events_total 3")
}

func TestMetricsServer_StartTwice(t *testing.T) {
	srv := NewMetricsServer("127.0.0.1:0", prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	assert.Error(t, srv.Start())
}

func TestMetricsServer_StopIdempotent(t *testing.T) {
	srv := NewMetricsServer("127.0.0.1:0", prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())

	srv.Stop()
	assert.False(t, srv.IsRunning())

	// Second Stop must be a no-op.
	srv.Stop()
}

func TestMetricsServer_InvalidAddr(t *testing.T) {
	srv := NewMetricsServer("256.0.0.1:99999", prometheus.NewRegistry(), zaptest.NewLogger(t))
	assert.Error(t, srv.Start())
	assert.Empty(t, srv.Addr())
	assert.False(t, srv.IsRunning())
}
