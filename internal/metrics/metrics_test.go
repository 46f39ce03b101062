package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.ObserveDispatch(OutcomeSuccess)
	m.ObserveDispatch(OutcomeFailure)
	m.ObserveDispatch(OutcomeSuccess)
	m.ObserveReconcile(OutcomeStale)
	m.AddQueueDepth(3)
	m.AddQueueDepth(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileTotal.WithLabelValues(OutcomeStale)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch(OutcomeSuccess)
		m.ObserveReconcile(OutcomeFailure)
		m.AddQueueDepth(1)
		m.AddOpenScopes(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDispatch(OutcomeSuccess)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `portal_dispatch_total{outcome="success"} 1`)
}
