// Package metrics exposes host resource utilization and HTTP/component
// instrumentation on /metrics. It completes the teacher's stubbed
// heartbeat metrics collector, swapped from percentage-only proto fields
// to a full gopsutil-backed sampler backing real Prometheus gauges and
// counters (spec §C supplemented feature).
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Metrics holds every Prometheus collector the agent exposes.
type Metrics struct {
	CPUPercent *prometheus.GaugeVec
	MemPercent prometheus.Gauge
	LoadAvg1   prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ProcessesRunning prometheus.Gauge
	SessionsActive   prometheus.Gauge
	WebSocketClients prometheus.Gauge
}

// New creates and registers every collector against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		CPUPercent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sandboxagent_cpu_percent",
				Help: "Per-core CPU utilization percentage.",
			},
			[]string{"core"},
		),
		MemPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxagent_mem_percent",
			Help: "Used memory percentage.",
		}),
		LoadAvg1: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxagent_load1",
			Help: "1-minute load average.",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandboxagent_http_requests_total",
				Help: "Total HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandboxagent_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ProcessesRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxagent_processes_running",
			Help: "Number of supervised processes currently running.",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxagent_sessions_active",
			Help: "Number of active interactive sessions.",
		}),
		WebSocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxagent_websocket_clients",
			Help: "Number of connected WebSocket clients.",
		}),
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

const sampleInterval = 15 * time.Second

// StartSampler periodically samples host CPU/memory/load and updates the
// corresponding gauges, until ctx is cancelled.
func (m *Metrics) StartSampler(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Metrics) sample(ctx context.Context) {
	if percents, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		for i, p := range percents {
			m.CPUPercent.WithLabelValues(strconv.Itoa(i)).Set(p)
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemPercent.Set(vm.UsedPercent)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.LoadAvg1.Set(avg.Load1)
	}
}
