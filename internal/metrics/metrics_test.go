package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveProvider("x", "ok", time.Second)
	m.ObserveToken("high", "updated")
	m.ObserveRun("high", "run", time.Second, true)
	m.ObserveDiscrepancy("none")
	m.ObserveCache(true)
	assert.NoError(t, m.Push("http://unused", "job", nil))
	assert.Nil(t, m.Registry())
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveToken("high", "updated")
	m.ObserveToken("high", "updated")
	m.ObserveProvider("dexscreener", "ok", 10*time.Millisecond)
	m.ObserveCache(false)

	assert.InDelta(t, 2, testutil.ToFloat64(m.TokensProcessed.WithLabelValues("high", "updated")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("dexscreener", "ok")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CandleCache.WithLabelValues("miss")), 1e-9)
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.ObserveToken("low", "failed")
	require.NoError(t, m.Push(srv.URL, "athsync", map[string]string{"command": "run"}))
	assert.Equal(t, "/metrics/job/athsync/command/run", gotPath)
}
