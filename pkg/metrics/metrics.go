package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the counters the fetch pipeline reports into.
type Collector struct {
	extractionsTotal  *prometheus.CounterVec
	fallbackStageHits *prometheus.CounterVec
	accountBans       *prometheus.CounterVec
	accountRotations  prometheus.Counter
	downloadsTotal    *prometheus.CounterVec
}

// NewCollector registers the pipeline metrics on reg. A nil reg falls
// back to the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		extractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Total number of extraction attempts by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		fallbackStageHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_stage_hits_total",
				Help:      "Number of times each fast-path stage produced the result",
			},
			[]string{"stage"},
		),
		accountBans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_bans_total",
				Help:      "Total number of accounts banned by reason",
			},
			[]string{"reason"},
		),
		accountRotations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_rotations_total",
				Help:      "Total number of account rotations",
			},
		),
		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Total number of media file downloads by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (c *Collector) RecordExtraction(path, outcome string) {
	c.extractionsTotal.WithLabelValues(path, outcome).Inc()
}

func (c *Collector) RecordFallbackStage(stage string) {
	c.fallbackStageHits.WithLabelValues(stage).Inc()
}

func (c *Collector) RecordBan(reason string) {
	c.accountBans.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordRotation() {
	c.accountRotations.Inc()
}

func (c *Collector) RecordDownload(outcome string) {
	c.downloadsTotal.WithLabelValues(outcome).Inc()
}
