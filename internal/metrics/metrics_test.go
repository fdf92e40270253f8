package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.GenerationAttempt("transient")
	m.GenerationAttempt("transient")
	m.GenerationAttempt("success")
	m.AssetOutcome("exhausted")
	m.RunStarted()
	m.RunFinished("complete")
	m.ObservePhase("decode", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generationAttempts.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assetOutcomes.WithLabelValues("exhausted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("complete")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GenerationAttempt("success")
		m.AssetOutcome("cached")
		m.ObservePhase("assemble", time.Second)
		m.RunStarted()
		m.RunFinished("error")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AssetOutcome("cached")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `factorytwin_asset_outcomes_total{status="cached"} 1`))
}
