package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AssembliesTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelsmith_assemblies_total", Help: "Assembly jobs by result"}, []string{"result"})
	UploadsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelsmith_uploads_total", Help: "Upload jobs by result"}, []string{"result"})
	DownloadedBytes     = prometheus.NewCounter(prometheus.CounterOpts{Name: "reelsmith_downloaded_bytes_total", Help: "Bytes fetched from remote assets"})
	DownloadFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reelsmith_download_failures_total", Help: "Failed asset downloads"})
	EncodesInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reelsmith_encodes_inflight", Help: "ffmpeg processes currently running"})
	WorkspacesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "reelsmith_workspaces_reclaimed_total", Help: "Workspaces removed by the reclamation sweep"})
	StageDuration       = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelsmith_stage_duration_seconds",
		Help:    "Duration of assembly pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AssembliesTotal,
			UploadsTotal,
			DownloadedBytes,
			DownloadFailures,
			EncodesInFlight,
			WorkspacesReclaimed,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
