package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// HTTP
			{"chatgw_requests_total", "Total number of HTTP requests served", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"chatgw_requests_failed_total", "HTTP requests answered with a 5xx status", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			// Streams
			{"chatgw_streams_started_total", "Chat streams started", "counter", atomic.LoadUint64(&m.metrics.StreamsStarted)},
			{"chatgw_streams_completed_total", "Chat streams that ended normally", "counter", atomic.LoadUint64(&m.metrics.StreamsCompleted)},
			{"chatgw_streams_failed_total", "Chat streams that ended with an error frame", "counter", atomic.LoadUint64(&m.metrics.StreamsFailed)},
			{"chatgw_streams_disconnected_total", "Chat streams abandoned by the client", "counter", atomic.LoadUint64(&m.metrics.StreamsDisconnected)},
			{"chatgw_active_streams", "Chat streams in flight", "gauge", atomic.LoadInt64(&m.metrics.ActiveStreams)},

			// Files and tokens
			{"chatgw_files_extracted_total", "Attachments extracted", "counter", atomic.LoadUint64(&m.metrics.FilesExtracted)},
			{"chatgw_extraction_failures_total", "Attachments skipped after an extraction error", "counter", atomic.LoadUint64(&m.metrics.ExtractionFailures)},
			{"chatgw_input_tokens_total", "Prompt tokens reported by the model", "counter", atomic.LoadUint64(&m.metrics.InputTokens)},
			{"chatgw_output_tokens_total", "Completion tokens reported by the model", "counter", atomic.LoadUint64(&m.metrics.OutputTokens)},

			{"chatgw_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"chatgw_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"chatgw_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"chatgw_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"chatgw_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "# HELP chatgw_upstream_errors_total Generation failures by kind\n")
		fmt.Fprintf(w, "# TYPE chatgw_upstream_errors_total counter\n")
		for k := 0; k < upstreamKinds; k++ {
			fmt.Fprintf(w, "chatgw_upstream_errors_total{kind=%q} %d\n",
				service.UpstreamErrorKind(k).String(), atomic.LoadUint64(&m.metrics.UpstreamErrors[k]))
		}
		fmt.Fprintln(w)

		if count := atomic.LoadUint64(&m.metrics.StreamLatencyCount); count > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.StreamLatencySum)) / float64(count) / 1e6
			fmt.Fprintf(w, "# HELP chatgw_stream_duration_avg_ms Average chat stream duration in milliseconds\n")
			fmt.Fprintf(w, "# TYPE chatgw_stream_duration_avg_ms gauge\n")
			fmt.Fprintf(w, "chatgw_stream_duration_avg_ms %f\n\n", avgMs)
		}
		if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
			fmt.Fprintf(w, "# HELP chatgw_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE chatgw_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "chatgw_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
