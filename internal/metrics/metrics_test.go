package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBuild(t *testing.T) {
	r := NewReporter().(*reporter)

	r.RecordBuild(OutcomeSuccess, 100*time.Millisecond, 2048)
	r.RecordBuild(OutcomeSuccess, 300*time.Millisecond, 4096)
	r.RecordBuild(OutcomeFailure, 200*time.Millisecond, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.builds.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.builds.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, float64(4096), testutil.ToFloat64(r.artifactBytes), "failed builds keep the last size")
	assert.Equal(t, 1, testutil.CollectAndCount(r.buildDuration))

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap.TotalBuilds)
	assert.Equal(t, int64(2), snap.SuccessfulBuilds)
	assert.Equal(t, int64(1), snap.FailedBuilds)
	assert.Equal(t, 200*time.Millisecond, snap.AverageDuration)
	assert.Equal(t, 200*time.Millisecond, snap.LastDuration)
}

func TestRecordCache(t *testing.T) {
	r := NewReporter().(*reporter)

	assert.Zero(t, r.Snapshot().CacheHitRate())

	r.RecordCache(3, 1)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, float64(75), r.Snapshot().CacheHitRate())
}

func TestMeasure(t *testing.T) {
	r := NewReporter()
	h := Measure(r, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1, testutil.CollectAndCount(r.(*reporter).httpResponseTime))
}

func TestHTTPHandler(t *testing.T) {
	r := NewReporter()
	r.RecordBuild(OutcomeSuccess, time.Second, 10)
	SetLiveReloadClients(r, 2)

	srv := httptest.NewServer(r.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `bundlekit_builds_total{outcome="success"} 1`)
	assert.Contains(t, string(body), "bundlekit_live_reload_clients 2")
	assert.Contains(t, string(body), "bundlekit_build_duration_seconds_bucket")
}
