// Package metrics exposes batch run statistics as Prometheus metrics.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
)

// Roles a rule can play for a transaction.
const (
	RoleWinner   = "winner"
	RoleShadowed = "shadowed"
	RoleTag      = "tag"
)

// Collector counts outcomes as a batch runs. It implements engine.Observer
// and is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	ruleMatches  *prometheus.CounterVec
	duration     prometheus.Histogram
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Name:      "transactions_total",
		Help:      "Transactions processed, by outcome",
	}, []string{"outcome"})

	c.ruleMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Name:      "rule_matches_total",
		Help:      "Rule matches, by rule and the role the rule played (winner, shadowed, tag)",
	}, []string{"rule", "role"})

	c.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tally",
		Name:      "match_duration_seconds",
		Help:      "Time spent matching one transaction",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	c.registry.MustRegister(c.transactions, c.ruleMatches, c.duration)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records one outcome.
func (c *Collector) Observe(o engine.Outcome) {
	c.transactions.WithLabelValues(outcomeLabel(o.Status())).Inc()
	c.duration.Observe(o.Duration.Seconds())

	if o.Result == nil {
		return
	}
	for _, step := range o.Result.Trace {
		if !step.Matched {
			continue
		}
		role := RoleShadowed
		switch {
		case step.TagOnly:
			role = RoleTag
		case step.Winner:
			role = RoleWinner
		}
		c.ruleMatches.WithLabelValues(step.Rule, role).Inc()
	}
}

// WriteTextfile writes the metrics in the text exposition format, for
// node_exporter's textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func outcomeLabel(s model.ClassificationStatus) string {
	return strings.ToLower(string(s))
}

var _ engine.Observer = (*Collector)(nil)
