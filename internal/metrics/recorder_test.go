package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)
	r.IncURLCache(true)
	r.IncURLCache(false)
	r.IncURLCache(false)
	r.IncSignRequest("GET")
	r.IncAuthFailure()
	r.ObserveCommit(120*time.Millisecond, true)
	r.SetSnapshotBytes("entries", 2048)
	r.IncEngineInit(true)
	r.SetStagedChanges(3)

	if got := testutil.ToFloat64(r.urlCache.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.snapshotBytes.WithLabelValues("entries")); got != 2048 {
		t.Errorf("snapshot bytes = %v, want 2048", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.IncURLCache(true)
	r.IncSignRequest("PUT")
	r.IncAuthFailure()
	r.ObserveCommit(time.Second, false)
	r.SetSnapshotBytes("assets", 1)
	r.IncEngineInit(false)
	r.SetStagedChanges(0)
}

func TestHandler(t *testing.T) {
	r := NewRecorder(nil)
	r.IncAuthFailure()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cmslake_auth_failures_total") {
		t.Errorf("body missing auth failure counter:\n%s", rec.Body.String())
	}
}
