package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/netchan/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordConnect("metrics-test", true)
	RecordConnect("metrics-test", false)
	RecordClose("metrics-test")
	RecordBytesSent("metrics-test", 24)
	RecordPacketSent("metrics-test")
	RecordBytesReceived("metrics-test", 12)
	RecordPacketReceived("metrics-test")
	RecordMissedHeartbeat("metrics-test")
	RecordError("metrics-test", "SendError")
	SetSendQueueDepth("metrics-test", 3)

	if got := counterValue(t, bytesSent.WithLabelValues("metrics-test")); got != 24 {
		t.Fatalf("bytes sent=%v", got)
	}
	if got := counterValue(t, channelErrors.WithLabelValues("metrics-test", "SendError")); got != 1 {
		t.Fatalf("errors=%v", got)
	}
	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestHandlerExposesChannelMetrics(t *testing.T) {
	testlog.Start(t)
	RecordPacketReceived("metrics-handler")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `netchan_channel_packets_received_total{channel="metrics-handler"} 1`) {
		t.Fatalf("metric missing from exposition")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
