package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"YoloBench/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const SampleInterval = 500 * time.Millisecond

// Metrics is the process registry. All methods are safe on a nil receiver.
type Metrics struct {
	registry     *prometheus.Registry
	memUsage     prometheus.Gauge
	cpuUsage     prometheus.Gauge
	interactions *prometheus.CounterVec
	inference    prometheus.Histogram
	detections   prometheus.Counter
	saves        *prometheus.CounterVec
	grpcTotal    *prometheus.CounterVec
	wsSessions   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yolobench_interactions_total",
			Help: "User interactions by image source and result",
		}, []string{"source", "result"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yolobench_inference_seconds",
			Help:    "Detector latency per interaction",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yolobench_detections_total",
			Help: "Detections returned above the threshold",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yolobench_bank_saves_total",
			Help: "Uploads saved to the bank by result",
		}, []string{"result"}),
		grpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}, []string{"method", "code"}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yolobench_ws_sessions",
			Help: "Open websocket sessions",
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.interactions, m.inference,
		m.detections, m.saves, m.grpcTotal, m.wsSessions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Interaction(source, result string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Inference(d time.Duration, detections int) {
	if m == nil {
		return
	}
	m.inference.Observe(d.Seconds())
	m.detections.Add(float64(detections))
}

func (m *Metrics) Saved(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) GRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.grpcTotal.WithLabelValues(method, code).Inc()
}

// SessionOpened tracks a websocket session; call the returned func on close.
func (m *Metrics) SessionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.wsSessions.Inc()
	return m.wsSessions.Dec
}

// CheckProcessInfo samples memory and CPU of pid into the gauges.
func (m *Metrics) CheckProcessInfo(pid *process.Process) {
	if m == nil {
		return
	}
	if memInfo, err := pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func StartMon(ctx context.Context, port int, m *Metrics) {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process monitor unavailable", zap.Error(err))
		pid = nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	logger.Log().Info("monitor listening", zap.Int("port", port))

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if pid != nil {
				m.CheckProcessInfo(pid)
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
