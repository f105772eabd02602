// Package metrics holds the Prometheus instruments of the sync engine. Each
// Recorder owns its registry, so several engines (or tests) never share
// counters.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-entry drain outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeConflict   = "conflict"
	OutcomeNotFound   = "not_found"
	OutcomeMalformed  = "malformed"
	OutcomeValidation = "validation"
	OutcomeHalted     = "halted"
)

// Drain results.
const (
	DrainCompleted = "completed"
	DrainHalted    = "halted"
	DrainStopped   = "stopped"
	DrainSkipped   = "skipped"
)

type Recorder struct {
	reg *prometheus.Registry

	outboxEntries  prometheus.Gauge
	enqueuedTotal  *prometheus.CounterVec
	entriesTotal   *prometheus.CounterVec
	drainsTotal    *prometheus.CounterVec
	drainDuration  prometheus.Histogram
	online         prometheus.Gauge
	conflictsTotal prometheus.Counter
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		outboxEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "notesync_outbox_entries",
			Help: "Current number of pending outbox entries",
		}),
		enqueuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notesync_outbox_enqueued_total",
			Help: "Total number of outbox entries enqueued",
		}, []string{"action"}),
		entriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notesync_drain_entries_total",
			Help: "Total number of outbox entries processed by drains",
		}, []string{"action", "outcome"}),
		drainsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notesync_drains_total",
			Help: "Total number of drain runs",
		}, []string{"result"}),
		drainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "notesync_drain_duration_seconds",
			Help:    "Drain duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Name: "notesync_online",
			Help: "1 when the server was reachable on the last check",
		}),
		conflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "notesync_conflicts_total",
			Help: "Total number of version conflicts resolved in favor of the server",
		}),
	}
}

// Registry exposes the recorder's registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) SetOutboxSize(n int) { r.outboxEntries.Set(float64(n)) }

func (r *Recorder) Enqueued(action string) { r.enqueuedTotal.WithLabelValues(action).Inc() }

func (r *Recorder) EntryProcessed(action, outcome string) {
	r.entriesTotal.WithLabelValues(action, outcome).Inc()
	if outcome == OutcomeConflict {
		r.conflictsTotal.Inc()
	}
}

func (r *Recorder) DrainFinished(result string, took time.Duration) {
	r.drainsTotal.WithLabelValues(result).Inc()
	if result != DrainSkipped {
		r.drainDuration.Observe(took.Seconds())
	}
}

func (r *Recorder) SetOnline(online bool) {
	if online {
		r.online.Set(1)
		return
	}
	r.online.Set(0)
}

// Sample is one counter or gauge value with its labels rendered inline.
type Sample struct {
	Name  string
	Value float64
}

// Snapshot gathers the counters and gauges of the registry, sorted by name.
// Histograms are reported by their sample count.
func (r *Recorder) Snapshot() ([]Sample, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				name += "_count"
				v = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, Sample{Name: name, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
