// Package metrics exports submission activity as Prometheus metrics.
//
// An Observer is passed to session.New through session.WithObserver. It
// counts submissions, writes and concurrency conflicts and records their
// latencies.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "uow"

// Observer implements session.Observer on top of Prometheus collectors.
type Observer struct {
	submits        *prometheus.CounterVec
	submitDuration prometheus.Histogram
	pending        prometheus.Gauge
	writes         *prometheus.CounterVec
	writeDuration  *prometheus.HistogramVec
	conflicts      *prometheus.CounterVec
}

type options struct {
	registerer prometheus.Registerer
	namespace  string
	buckets    []float64
}

// Option configures an Observer.
type Option func(*options)

// WithRegisterer registers the collectors with r instead of the default
// registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets sets the latency histogram buckets, in seconds.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// New creates an Observer and registers its collectors.
func New(opts ...Option) (*Observer, error) {
	o := options{
		registerer: prometheus.DefaultRegisterer,
		namespace:  DefaultNamespace,
		buckets:    prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&o)
	}

	obs := &Observer{
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "submits_total",
			Help:      "SubmitChanges calls by result.",
		}, []string{"result"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "submit_duration_seconds",
			Help:      "Wall time of SubmitChanges.",
			Buckets:   o.buckets,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "submit_pending_changes",
			Help:      "Ordered writes in the most recent submission.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "writes_total",
			Help:      "Insert, update and delete commands by entity type and result.",
		}, []string{"action", "type", "result"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "write_duration_seconds",
			Help:      "Latency of a single write command.",
			Buckets:   o.buckets,
		}, []string{"action"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "conflicts_total",
			Help:      "Optimistic concurrency conflicts by entity type.",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		obs.submits, obs.submitDuration, obs.pending, obs.writes, obs.writeDuration, obs.conflicts,
	} {
		if err := o.registerer.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return obs, nil
}

// SubmitStarted records the number of ordered writes.
func (o *Observer) SubmitStarted(_ context.Context, pending int) {
	o.pending.Set(float64(pending))
}

// WriteIssued counts one command and its latency.
func (o *Observer) WriteIssued(_ context.Context, action types.ChangeAction, typeName string, elapsed time.Duration, err error) {
	r := result(err)
	o.writes.WithLabelValues(action.String(), typeName, r).Inc()
	o.writeDuration.WithLabelValues(action.String()).Observe(elapsed.Seconds())
	if r == ResultConflict {
		o.conflicts.WithLabelValues(typeName).Inc()
	}
}

// SubmitFinished counts the submission by outcome.
func (o *Observer) SubmitFinished(_ context.Context, elapsed time.Duration, err error) {
	o.submits.WithLabelValues(result(err)).Inc()
	o.submitDuration.Observe(elapsed.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, types.ErrChangeConflict):
		return ResultConflict
	default:
		return ResultError
	}
}
