package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordTurnsAndIntrusions(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("mirrormind_test_metrics_%d", time.Now().UnixNano()))

	m.ObserveTurn("ok")
	m.ObserveTurn("ok")
	m.ObserveTurn("remote_unavailable")
	m.ObserveIntrusion()
	m.ObserveSessionEvent("created", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("remote_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Intrusions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("ok")
		m.ObserveIntrusion()
		m.ObserveRegistration("ok")
		m.ObserveProviderError("d-id", "timeout")
		m.ObserveRemoteCall("gemini", "complete", time.Second)
		m.ObserveSessionEvent("created", 1)
		m.ObserveWSMessage("inbound", "client_turn")
	})
}

func TestSessionEventWithoutCountKeepsGauge(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("mirrormind_test_gauge_%d", time.Now().UnixNano()))
	m.ObserveSessionEvent("created", 2)
	m.ObserveSessionEvent("ws_connected", -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionEvents.WithLabelValues("ws_connected")))
}
