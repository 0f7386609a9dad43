package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func TestNewPusherSelection(t *testing.T) {
	log := zap.NewNop()
	assert.Nil(t, NewPusher(PushConfig{}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: PushRemoteWrite}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: PushRemoteWrite, Endpoint: "not a url"}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: "statsd", Endpoint: "http://x"}, log))

	assert.IsType(t, &RemoteWritePusher{}, NewPusher(PushConfig{Exporter: "Prometheus_Remote_Write", Endpoint: "http://collector/api/v1/write"}, log))
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(PushConfig{Exporter: PushPushgateway, Endpoint: "http://gateway:9091", Job: "trustledger"}, log))
}

func TestRemoteWritePusherEncodesSeries(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCoordinatorMetrics(registry, Config{ServiceName: "trustledger", Environment: "test"})
	m.IncReplay("consume")
	m.ObserveTxDuration("consume", 20*time.Millisecond)

	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, proto.Unmarshal(decoded, protoadapt.MessageV2Of(&got)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	require.NoError(t, pusher.Push(context.Background(), registry))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))

	names := map[string]float64{}
	for _, ts := range got.Timeseries {
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, int64(1_700_000_000_000), ts.Samples[0].Timestamp)
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = ts.Samples[0].Value
			}
		}
	}
	assert.Equal(t, float64(1), names["trustledger_coordinator_replays_total"])
	assert.Equal(t, float64(1), names["trustledger_coordinator_tx_duration_seconds_count"])
	assert.Contains(t, names, "trustledger_coordinator_tx_duration_seconds_sum")
}

func TestRemoteWritePusherRejectsErrorStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewCoordinatorMetrics(registry, Config{}).IncReplay("refund")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	assert.ErrorContains(t, err, "502")
}

func TestRemoteWritePusherSkipsEmptyRegistry(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, NewRemoteWritePusher(srv.URL, "").Push(context.Background(), prometheus.NewRegistry()))
	assert.False(t, called)
}

func TestPushgatewayPusherRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://gateway:9091", " ", nil).Push(context.Background(), prometheus.NewRegistry())
	assert.ErrorContains(t, err, "job is required")
}

func TestPushgatewayPusherPutsGroup(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewCoordinatorMetrics(registry, Config{}).IncReplay("consume")

	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "trustledger", map[string]string{"environment": "test", "empty": ""})
	require.NoError(t, pusher.Push(context.Background(), registry))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/trustledger/environment/test", path)
}
