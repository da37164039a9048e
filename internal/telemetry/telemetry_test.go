package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/flowload/internal/metrics"
)

func TestNewRegistry_ReadsLiveValues(t *testing.T) {
	requests := metrics.NewEngine()
	trends := metrics.NewTrendSink()
	start := time.Now()
	throughput := metrics.NewThroughputCounter(trends, start)

	reg := NewRegistry(Sources{Requests: requests, Throughput: throughput, Trends: trends})

	requests.SetActiveVUs(7)
	requests.RecordRequest("createTemplate", time.Millisecond, true)
	requests.RecordRequest("getTemplate", time.Millisecond, false)
	throughput.RecordRequest()
	throughput.RecordRequest()
	throughput.Tick(start.Add(time.Second))
	trends.Record(metrics.MetricE2ETime, 10, nil)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 8)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "flowload_virtual_users 7")
	assert.Contains(t, text, "flowload_requests_total 2")
	assert.Contains(t, text, "flowload_requests_failed_total 1")
	assert.Contains(t, text, "flowload_request_failure_rate 0.5")
	assert.Contains(t, text, "flowload_instant_rps 2")
	assert.Contains(t, text, `flowload_trend_samples_total{trend="e2e_time"} 1`)
}

func TestNewRegistry_NilSources(t *testing.T) {
	reg := NewRegistry(Sources{})
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
