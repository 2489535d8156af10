package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics("test", reg), reg
}

func TestARQObserverCountsPackets(t *testing.T) {
	m, _ := newTestMetrics(t)
	obs := m.ARQObserver(linklayer.GoBackN)

	obs.PacketSent(false)
	obs.PacketSent(false)
	obs.PacketSent(true)
	obs.PacketDropped()
	obs.AckSent()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("go_back_n", "first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("go_back_n", "retransmit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues("go_back_n")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcksSent.WithLabelValues("go_back_n")))
}

func TestARQObserverDuringTransfer(t *testing.T) {
	m, _ := newTestMetrics(t)
	cfg := linklayer.DefaultConfig()
	cfg.LossProbability = 0
	cfg.Timeout = 5 * time.Millisecond
	cfg.Observer = m.ARQObserver(linklayer.SelectiveRepeat)

	conn := linklayer.NewMemoryChannel()
	done := make(chan []byte, 1)
	go func() {
		data, err := linklayer.SelectiveRepeatReceive(t.Context(), conn, cfg)
		assert.NoError(t, err)
		done <- data
	}()

	_, err := linklayer.SelectiveRepeatSend(t.Context(), conn, 1, []byte("hello"), cfg)
	require.NoError(t, err)

	select {
	case data := <-done:
		assert.Equal(t, "hello", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not finish")
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("selective_repeat", "first")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.AcksSent.WithLabelValues("selective_repeat")), 5.0)
}

func TestMessageAndScenarioMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.MessageSent("DATA", 120, 10*time.Millisecond)
	m.MessageSent("DATA", 80, 20*time.Millisecond)
	m.MessageReceived("HELLO")
	m.RecordDecision("4_1_0-t", true)
	m.RecordDecision("4_1_0-t", true)
	m.RecordVerdicts("4_1_0-t", []string{"all loyal lieutenants have the same values"})
	m.RecordTrial("go_back_n", "window", 0.4)
	m.UpdateWorkerPool(3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("HELLO")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("4_1_0-t", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues("go_back_n", "window")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WorkerPoolActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.WorkerPoolPending))

	expected := `
# HELP test_scenario_verdicts_total Scenario outcomes by verdict
# TYPE test_scenario_verdicts_total counter
test_scenario_verdicts_total{scenario="4_1_0-t",verdict="all loyal lieutenants have the same values"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_scenario_verdicts_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.MessagePackets))
}

func TestMetricsServerEndpoints(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.MessageReceived("DATA")
	srv := httptest.NewServer(NewMetricsServer(":0", reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `test_messages_received_total{type="DATA"} 1`)
}
