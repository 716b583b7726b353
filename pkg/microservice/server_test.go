package microservice_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProbe struct {
	alive atomic.Bool
	ready atomic.Bool
}

func (p *stubProbe) IsAlive() bool { return p.alive.Load() }
func (p *stubProbe) IsReady() bool { return p.ready.Load() }

func serve(t *testing.T, s *microservice.BaseServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestBaseServer_Probes(t *testing.T) {
	probe := &stubProbe{}
	s := microservice.NewBaseServer(zerolog.Nop(), ":0", probe, nil)

	t.Run("not alive and not ready", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/healthy").Code)
		assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/ready").Code)
	})

	t.Run("alive but not ready", func(t *testing.T) {
		probe.alive.Store(true)
		assert.Equal(t, http.StatusNoContent, serve(t, s, "/healthy").Code)
		assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/ready").Code)
	})

	t.Run("alive and ready", func(t *testing.T) {
		probe.ready.Store(true)
		rec := serve(t, s, "/ready")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestBaseServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_test_total", Help: "Test counter."})
	reg.MustRegister(counter)
	counter.Inc()

	s := microservice.NewBaseServer(zerolog.Nop(), ":0", &stubProbe{}, reg)

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe_test_total 1")
}

func TestBaseServer_NoMetricsWithoutGatherer(t *testing.T) {
	s := microservice.NewBaseServer(zerolog.Nop(), ":0", &stubProbe{}, nil)
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/metrics").Code)
}

func TestBaseServer_StartAndShutdown(t *testing.T) {
	// Arrange
	probe := &stubProbe{}
	probe.alive.Store(true)
	s := microservice.NewBaseServer(zerolog.Nop(), "127.0.0.1:0", probe, nil)

	// Act
	require.NoError(t, s.Start())
	port := s.GetHTTPPort()
	require.NotEqual(t, ":0", port)

	// Assert
	resp, err := http.Get("http://127.0.0.1" + port + "/healthy")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = http.Get("http://127.0.0.1" + port + "/healthy")
	assert.Error(t, err)
}

func TestBaseServer_StartFailsOnBadAddress(t *testing.T) {
	s := microservice.NewBaseServer(zerolog.Nop(), "not-an-address", &stubProbe{}, nil)
	assert.Error(t, s.Start())
}
