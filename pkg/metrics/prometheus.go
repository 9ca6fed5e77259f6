// Package metrics provides a Prometheus exporter for engine observer
// events.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haikala/weft/pkg/api"
)

const namespace = "weft"

// PrometheusObserver exports run, step and model-call metrics to a
// Prometheus registry. It implements api.Observer.
type PrometheusObserver struct {
	runsTotal    *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	stepAttempts *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	modelTokens  *prometheus.CounterVec
	modelCost    *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates a PrometheusObserver and registers its
// collectors with reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished runs",
			},
			[]string{"status"}, // status: completed, failed
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of currently executing runs",
			},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Histogram of total run execution duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		stepAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_attempts_total",
				Help:      "Total number of step attempts, including retries",
			},
			[]string{"step"},
		),
		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of model calls",
			},
			[]string{"model", "kind"}, // kind: main, retry
		),
		modelTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_tokens_total",
				Help:      "Total tokens consumed by model calls",
			},
			[]string{"model", "type"}, // type: input, output
		),
		modelCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_cost_usd_total",
				Help:      "Total cost in USD from model calls",
			},
			[]string{"model"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Duration of model calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
	}

	reg.MustRegister(
		o.runsTotal,
		o.runsActive,
		o.runDuration,
		o.stepAttempts,
		o.modelCalls,
		o.modelTokens,
		o.modelCost,
		o.callLatency,
	)
	return o
}

func (o *PrometheusObserver) OnRunStart(ctx context.Context, run *api.Run) {
	o.runsActive.Inc()
}

func (o *PrometheusObserver) OnRunCompleted(ctx context.Context, run *api.Run) {
	o.finishRun(run, "completed")
}

func (o *PrometheusObserver) OnRunFailed(ctx context.Context, run *api.Run, reason string) {
	o.finishRun(run, "failed")
}

func (o *PrometheusObserver) finishRun(run *api.Run, status string) {
	o.runsActive.Dec()
	o.runsTotal.WithLabelValues(status).Inc()
	if run.StartedAt != nil && run.CompletedAt != nil {
		o.runDuration.WithLabelValues(status).Observe(run.CompletedAt.Sub(*run.StartedAt).Seconds())
	}
}

func (o *PrometheusObserver) OnStepAttempt(ctx context.Context, run *api.Run, step *api.Step, attempt int) {
	o.stepAttempts.WithLabelValues(step.Name).Inc()
}

func (o *PrometheusObserver) OnStepCompleted(ctx context.Context, run *api.Run, step *api.Step, passed bool, attempts int, d time.Duration) {
}

func (o *PrometheusObserver) OnModelCall(ctx context.Context, run *api.Run, log *api.ModelCallLog) {
	o.modelCalls.WithLabelValues(log.Model, string(log.Kind)).Inc()
	o.modelTokens.WithLabelValues(log.Model, "input").Add(float64(log.InputTokens))
	o.modelTokens.WithLabelValues(log.Model, "output").Add(float64(log.OutputTokens))
	o.modelCost.WithLabelValues(log.Model).Add(log.CostUSD)
	o.callLatency.WithLabelValues(log.Model).Observe(float64(log.LatencyMS) / 1000)
}
