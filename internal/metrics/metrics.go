// Package metrics exposes Prometheus collectors for the learning pipeline.
// Each Collector owns its registry, so tests and multiple coordinators in
// one process never collide on registration.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the learngraph metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	StageDuration     *prometheus.HistogramVec
	StageOutcomes     *prometheus.CounterVec
	MasteryUpdates    *prometheus.CounterVec
	ContentRequests   *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionsFinished  *prometheus.CounterVec
	RecommendationLen prometheus.Histogram
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage execution time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage executions by outcome",
		}, []string{"stage", "outcome"}),
		MasteryUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mastery_updates_total",
			Help:      "Mastery updates by cause",
		}, []string{"cause"}),
		ContentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_requests_total",
			Help:      "Content fetches by kind and source",
		}, []string{"kind", "source"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions closed by terminal status",
		}, []string{"status"}),
		RecommendationLen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommendation_items",
			Help:      "Items per recommendation",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
	c.registry.MustRegister(
		c.StageDuration, c.StageOutcomes, c.MasteryUpdates, c.ContentRequests,
		c.SessionsActive, c.SessionsFinished, c.RecommendationLen,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveStage(stage, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	c.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (c *Collector) MasteryUpdated(cause string) {
	if c == nil {
		return
	}
	c.MasteryUpdates.WithLabelValues(cause).Inc()
}

// ContentServed counts a fetch. source is "generated", "cache" or "failed".
func (c *Collector) ContentServed(kind, source string) {
	if c == nil {
		return
	}
	c.ContentRequests.WithLabelValues(kind, source).Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

func (c *Collector) SessionClosed(status string) {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
	c.SessionsFinished.WithLabelValues(status).Inc()
}

func (c *Collector) Recommended(items int) {
	if c == nil {
		return
	}
	c.RecommendationLen.Observe(float64(items))
}

// WriteSummary prints every non-zero counter and gauge sample, one per line,
// sorted by name.
func (c *Collector) WriteSummary(w io.Writer) error {
	if c == nil {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				v = float64(m.GetHistogram().GetSampleCount())
			}
			if v == 0 {
				continue
			}
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%-60s %g", name, v))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
