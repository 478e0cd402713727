package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
)

// upstreamKinds is the number of service.UpstreamErrorKind values.
const upstreamKinds = int(service.ErrKindCancelled) + 1

// Metrics 指标收集器
type Metrics struct {
	// HTTP 请求
	RequestsTotal       uint64
	RequestsFailed      uint64
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 流式对话
	StreamsStarted      uint64
	StreamsCompleted    uint64
	StreamsFailed       uint64
	StreamsDisconnected uint64
	ActiveStreams       int64
	StreamLatencySum    uint64
	StreamLatencyCount  uint64

	// 上游错误, 按类别
	UpstreamErrors [upstreamKinds]uint64

	// 文件提取
	FilesExtracted     uint64
	ExtractionFailures uint64

	// 令牌
	InputTokens  uint64
	OutputTokens uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

// RecordRequest counts one HTTP request; status >= 500 counts as failed.
func (m *Monitor) RecordRequest(status int, d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestsTotal, 1)
	if status >= 500 {
		atomic.AddUint64(&m.metrics.RequestsFailed, 1)
	}
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// StreamStarted 流开始
func (m *Monitor) StreamStarted() {
	atomic.AddUint64(&m.metrics.StreamsStarted, 1)
	atomic.AddInt64(&m.metrics.ActiveStreams, 1)
}

// StreamFinished 流结束
func (m *Monitor) StreamFinished(outcome service.StreamOutcome, d time.Duration) {
	atomic.AddInt64(&m.metrics.ActiveStreams, -1)
	switch outcome {
	case service.OutcomeCompleted:
		atomic.AddUint64(&m.metrics.StreamsCompleted, 1)
	case service.OutcomeDisconnected:
		atomic.AddUint64(&m.metrics.StreamsDisconnected, 1)
	default:
		atomic.AddUint64(&m.metrics.StreamsFailed, 1)
	}
	atomic.AddUint64(&m.metrics.StreamLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.StreamLatencyCount, 1)
}

// UpstreamError 上游错误计数
func (m *Monitor) UpstreamError(kind service.UpstreamErrorKind) {
	if int(kind) < 0 || int(kind) >= upstreamKinds {
		m.logger.Warn("Unknown upstream error kind", zap.Int("kind", int(kind)))
		return
	}
	atomic.AddUint64(&m.metrics.UpstreamErrors[kind], 1)
}

// FileExtracted counts one attachment by outcome.
func (m *Monitor) FileExtracted(ok bool) {
	if ok {
		atomic.AddUint64(&m.metrics.FilesExtracted, 1)
		return
	}
	atomic.AddUint64(&m.metrics.ExtractionFailures, 1)
}

// TokensUsed 令牌用量
func (m *Monitor) TokensUsed(input, output int) {
	if input > 0 {
		atomic.AddUint64(&m.metrics.InputTokens, uint64(input))
	}
	if output > 0 {
		atomic.AddUint64(&m.metrics.OutputTokens, uint64(output))
	}
}

// ActiveStreams 当前活跃流数量
func (m *Monitor) ActiveStreams() int64 {
	return atomic.LoadInt64(&m.metrics.ActiveStreams)
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	avgStream := float64(0)
	if count := atomic.LoadUint64(&m.metrics.StreamLatencyCount); count > 0 {
		avgStream = float64(atomic.LoadUint64(&m.metrics.StreamLatencySum)) / float64(count) / 1e6 // ms
	}

	upstream := make(map[string]uint64, upstreamKinds)
	for k := 0; k < upstreamKinds; k++ {
		upstream[service.UpstreamErrorKind(k).String()] = atomic.LoadUint64(&m.metrics.UpstreamErrors[k])
	}

	return map[string]interface{}{
		"uptime_seconds":       time.Since(m.metrics.StartTime).Seconds(),
		"requests_total":       atomic.LoadUint64(&m.metrics.RequestsTotal),
		"streams_started":      atomic.LoadUint64(&m.metrics.StreamsStarted),
		"streams_completed":    atomic.LoadUint64(&m.metrics.StreamsCompleted),
		"streams_failed":       atomic.LoadUint64(&m.metrics.StreamsFailed),
		"streams_disconnected": atomic.LoadUint64(&m.metrics.StreamsDisconnected),
		"active_streams":       atomic.LoadInt64(&m.metrics.ActiveStreams),
		"avg_stream_ms":        avgStream,
		"upstream_errors":      upstream,
		"extraction_failures":  atomic.LoadUint64(&m.metrics.ExtractionFailures),
		"input_tokens":         atomic.LoadUint64(&m.metrics.InputTokens),
		"output_tokens":        atomic.LoadUint64(&m.metrics.OutputTokens),
		"memory_mb":            float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":           runtime.NumGoroutine(),
	}
}
