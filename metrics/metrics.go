package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/pelageech/aether/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
)

const timeObserve = 1 * time.Second

type Metrics struct {
	CPU              prometheus.Gauge
	AllocatedMemory  prometheus.Gauge
	RequestsNow      prometheus.Gauge
	Requests         *prometheus.CounterVec
	ResponseBodySize prometheus.Histogram
	RequestDuration  prometheus.Histogram
	HitsDropped      prometheus.Counter

	reg *prometheus.Registry
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_cpu_usage",
			Help: "CPU usage",
		}),
		AllocatedMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_allocated_memory",
			Help: "Bytes of allocated heap objects",
		}),
		RequestsNow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_requests_are_being_processed",
			Help: "How many requests are being processed",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_requests_were_processed",
			Help: "How many requests were processed, by method and status code",
		}, []string{"method", "code"}),
		ResponseBodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aether_response_body_size_bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aether_request_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}),
		HitsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aether_stats_hits_dropped",
			Help: "Hits not written to the stats database because its queue was full",
		}),
		reg: reg,
	}
	reg.MustRegister(
		m.CPU,
		m.AllocatedMemory,
		m.RequestsNow,
		m.Requests,
		m.ResponseBodySize,
		m.RequestDuration,
		m.HitsDropped,
	)
	return m
}

func (m *Metrics) UpdateCPU() {
	p, err := cpu.Percent(0, false)
	if err == nil && len(p) > 0 {
		m.CPU.Set(p[0])
	}
}

func (m *Metrics) UpdateMemory() {
	s := runtime.MemStats{}
	runtime.ReadMemStats(&s)
	m.AllocatedMemory.Set(float64(s.Alloc))
}

// Observe samples CPU and memory every second until ctx is done.
func (m *Metrics) Observe(ctx context.Context) {
	t := time.NewTicker(timeObserve)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.UpdateCPU()
			m.UpdateMemory()
		}
	}
}

// InFlight counts requests that are being processed by next.
func (m *Metrics) InFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		m.RequestsNow.Inc()
		defer m.RequestsNow.Dec()
		next.ServeHTTP(rw, req)
	})
}

// Saver records a finished request.
func (m *Metrics) Saver() timer.Saver {
	return func(_ *http.Request, rec timer.Record) {
		m.Requests.WithLabelValues(rec.Method, strconv.Itoa(rec.Status)).Inc()
		m.ResponseBodySize.Observe(float64(rec.Bytes))
		m.RequestDuration.Observe(rec.Duration.Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
