// Package metrics provides Prometheus metrics for the drivesync tools.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transfer metrics
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivesync_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivesync_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivesync_bytes_downloaded_total",
			Help: "Total bytes downloaded from the remote drive",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivesync_bytes_uploaded_total",
			Help: "Total bytes uploaded to the remote drive",
		},
	)

	// Queue metrics
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drivesync_queue_depth",
			Help: "Current depth of the transfer work queues",
		},
		[]string{"queue"},
	)

	// Remote API metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivesync_remote_requests_total",
			Help: "Total number of remote API requests",
		},
		[]string{"operation", "status"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivesync_token_refreshes_total",
			Help: "Total number of OAuth2 token refresh attempts",
		},
		[]string{"status"},
	)
)

// RecordDownload records a completed or failed file download.
func RecordDownload(status string, bytes int64) {
	downloadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		bytesDownloaded.Add(float64(bytes))
	}
}

// RecordUpload records a completed or failed file upload.
func RecordUpload(status string, bytes int64) {
	uploadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		bytesUploaded.Add(float64(bytes))
	}
}

// SetQueueDepth sets the current depth of a named work queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordRemoteRequest records a remote API call by operation and outcome.
func RecordRemoteRequest(operation, status string) {
	remoteRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordTokenRefresh records a token refresh attempt.
func RecordTokenRefresh(status string) {
	tokenRefreshesTotal.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics listener on addr. It blocks, so callers run it in a
// goroutine. A failed listener is not fatal to the tool.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
