package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "avresolve"

// Collectors 汇总 worker 暴露的指标。
//
// 约束：
// - 所有方法对 nil 接收者安全（单次 resolve / 测试不需要指标）
// - 只注册到调用方给的 Registerer，不碰全局默认注册表
type Collectors struct {
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	providerResults *prometheus.CounterVec
	streamLocate    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished resolution jobs by terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one resolution job.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_results_total",
			Help:      "Metadata provider outcomes.",
		}, []string{"provider", "result"}),
		streamLocate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_locate_total",
			Help:      "Stream locator outcomes.",
		}, []string{"result"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.jobs, c.jobDuration, c.providerResults, c.streamLocate} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) ObserveJob(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(status).Inc()
	c.jobDuration.Observe(d.Seconds())
}

func (c *Collectors) ObserveProvider(provider, result string) {
	if c == nil {
		return
	}
	c.providerResults.WithLabelValues(provider, result).Inc()
}

func (c *Collectors) ObserveStream(found bool) {
	if c == nil {
		return
	}
	result := "not_found"
	if found {
		result = "found"
	}
	c.streamLocate.WithLabelValues(result).Inc()
}

// Serve 在 addr 上暴露 /metrics，ctx 结束时优雅关闭。
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if log != nil {
		log.WithField("addr", addr).Info("metrics endpoint listening")
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
