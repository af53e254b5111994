// Package metrics exposes Prometheus counters for the sync pipeline. Every
// method is safe on a nil *Recorder so components can run without metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cmslake"

// Recorder records cache, signing, engine and commit metrics.
type Recorder struct {
	once           sync.Once
	reg            *prom.Registry
	urlCache       *prom.CounterVec
	signRequests   *prom.CounterVec
	authFailures   prom.Counter
	commitDuration *prom.HistogramVec
	commits        *prom.CounterVec
	snapshotBytes  *prom.GaugeVec
	engineInits    *prom.CounterVec
	stagedChanges  prom.Gauge
}

// NewRecorder constructs and registers the metrics on reg (a fresh registry
// when nil).
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}
	r.once.Do(func() {
		r.urlCache = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "signed_url_cache_total",
			Help:      "Signed URL cache lookups by result",
		}, []string{"result"})
		r.signRequests = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sign_requests_total",
			Help:      "Requests sent to the URL signing service by operation",
		}, []string{"operation"})
		r.authFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Signing requests rejected with 401 or 403",
		})
		r.commitDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Commit pipeline duration",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		r.commits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits by result",
		}, []string{"result"})
		r.snapshotBytes = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes",
			Help:      "Size of the last exported snapshot by table",
		}, []string{"table"})
		r.engineInits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "engine_inits_total",
			Help:      "Engine initializations by result",
		}, []string{"result"})
		r.stagedChanges = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_changes",
			Help:      "Changes waiting in the staging queue",
		})
		reg.MustRegister(r.urlCache, r.signRequests, r.authFailures, r.commitDuration,
			r.commits, r.snapshotBytes, r.engineInits, r.stagedChanges)
	})
	return r
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

func (r *Recorder) IncURLCache(hit bool) {
	if r == nil || r.urlCache == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	r.urlCache.WithLabelValues(res).Inc()
}

func (r *Recorder) IncSignRequest(operation string) {
	if r == nil || r.signRequests == nil {
		return
	}
	r.signRequests.WithLabelValues(operation).Inc()
}

func (r *Recorder) IncAuthFailure() {
	if r == nil || r.authFailures == nil {
		return
	}
	r.authFailures.Inc()
}

func (r *Recorder) ObserveCommit(d time.Duration, ok bool) {
	if r == nil || r.commitDuration == nil {
		return
	}
	r.commitDuration.WithLabelValues(result(ok)).Observe(d.Seconds())
	r.commits.WithLabelValues(result(ok)).Inc()
}

func (r *Recorder) SetSnapshotBytes(table string, n int) {
	if r == nil || r.snapshotBytes == nil {
		return
	}
	r.snapshotBytes.WithLabelValues(table).Set(float64(n))
}

func (r *Recorder) IncEngineInit(ok bool) {
	if r == nil || r.engineInits == nil {
		return
	}
	r.engineInits.WithLabelValues(result(ok)).Inc()
}

func (r *Recorder) SetStagedChanges(n int) {
	if r == nil || r.stagedChanges == nil {
		return
	}
	r.stagedChanges.Set(float64(n))
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.reg == nil {
		return promhttp.HandlerFor(prom.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
