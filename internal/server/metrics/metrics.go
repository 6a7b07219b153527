// Package metrics records mutation outcomes and live connection counts in
// Prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder never fails its caller: a panicking collector is logged and
// ignored.
type Recorder struct {
	mutations   *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	connections *prometheus.GaugeVec
	instance    string
	log         logging.Logger
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer, instance string, log logging.Logger) (*Recorder, error) {
	if log == nil {
		log = logging.Nop{}
	}
	r := &Recorder{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "region_mutations_total",
			Help: "Region mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "region_mutation_duration_seconds",
			Help:    "Latency of region mutations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collab_connections",
			Help: "Open collaboration connections on this instance.",
		}, []string{"instance"}),
		instance: instance,
		log:      log.With("module", "metrics"),
	}
	for _, c := range []prometheus.Collector{r.mutations, r.durations, r.connections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) safe(ctx context.Context, fn func()) {
	if r == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "metrics recording failed", "panic", p)
		}
	}()
	fn()
}

// RecordMutation counts one operation and observes its duration.
func (r *Recorder) RecordMutation(ctx context.Context, operation string, d time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.safe(ctx, func() {
		r.mutations.WithLabelValues(operation, outcome).Inc()
		r.durations.WithLabelValues(operation, outcome).Observe(d.Seconds())
	})
}

func (r *Recorder) ConnectionOpened(ctx context.Context) {
	r.safe(ctx, func() { r.connections.WithLabelValues(r.instance).Inc() })
}

func (r *Recorder) ConnectionClosed(ctx context.Context) {
	r.safe(ctx, func() { r.connections.WithLabelValues(r.instance).Dec() })
}
