package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

// Collector records orchestration metrics. It is safe for concurrent use.
type Collector struct {
	nodeInvocations     *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	loopIterations      *prometheus.HistogramVec
	guardrailRejections *prometheus.CounterVec
	runsTotal           *prometheus.CounterVec
	runDuration         prometheus.Histogram
	modelRequests       *prometheus.CounterVec
	modelDuration       *prometheus.HistogramVec

	logger *zap.Logger
}

var _ core.Observer = (*Collector)(nil)

// NewCollector registers the metrics under namespace on reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.nodeInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_invocations_total",
			Help:      "Total number of node invocations by outcome",
		},
		[]string{"node", "kind", "outcome"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "kind"},
	)

	c.loopIterations = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Iterations executed per loop run",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		},
		[]string{"loop", "status"},
	)

	c.guardrailRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_rejections_total",
			Help:      "Total number of guardrail rejections",
		},
		[]string{"node", "guardrail"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs by outcome",
		},
		[]string{"outcome"},
	)

	c.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	c.modelRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Total number of reasoning service requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.modelDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Reasoning service request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	return c
}

// NodeFinished implements core.Observer.
func (c *Collector) NodeFinished(node, kind string, elapsed time.Duration, status core.Status, err error) {
	c.nodeInvocations.WithLabelValues(node, kind, string(status)).Inc()
	c.nodeDuration.WithLabelValues(node, kind).Observe(elapsed.Seconds())

	if err != nil {
		c.logger.Debug("node failed",
			zap.String("node", node),
			zap.String("kind", kind),
			zap.String("code", core.ErrorCode(err)),
		)
	}
}

// LoopFinished implements core.Observer.
func (c *Collector) LoopFinished(loop string, iterations int, status core.Status) {
	c.loopIterations.WithLabelValues(loop, string(status)).Observe(float64(iterations))
}

// GuardrailRejected implements core.Observer.
func (c *Collector) GuardrailRejected(node, guardrail string) {
	c.guardrailRejections.WithLabelValues(node, guardrail).Inc()
}

// RunFinished implements core.Observer.
func (c *Collector) RunFinished(status core.Status, elapsed time.Duration) {
	c.runsTotal.WithLabelValues(string(status)).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}

// InstrumentModel wraps m so every Generate call is counted and timed.
func (c *Collector) InstrumentModel(m model.Model) model.Model {
	return &instrumentedModel{next: m, c: c}
}

type instrumentedModel struct {
	next model.Model
	c    *Collector
}

func (m *instrumentedModel) Info() model.Info { return m.next.Info() }

func (m *instrumentedModel) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	info := m.next.Info()
	start := time.Now()

	resp, err := m.next.Generate(ctx, req)

	status := "success"
	if err != nil {
		status = core.ErrorCode(err)
	}

	m.c.modelRequests.WithLabelValues(info.Provider, info.Name, status).Inc()
	m.c.modelDuration.WithLabelValues(info.Provider, info.Name).Observe(time.Since(start).Seconds())

	return resp, err
}
