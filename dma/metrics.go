package dma

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what an engine does.
type Metrics struct {
	Submitted     prometheus.Counter
	Started       prometheus.Counter
	Completed     prometheus.Counter
	Periods       prometheus.Counter
	Faults        prometheus.Counter
	BusyResets    prometheus.Counter
	Terminated    prometheus.Counter
	BoundChannels prometheus.Gauge
}

func newMetrics(engine string) *Metrics {
	labels := prometheus.Labels{"engine": engine}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "aicdma",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Metrics{
		Submitted:  counter("requests_submitted_total", "Requests submitted."),
		Started:    counter("requests_started_total", "Requests programmed into a channel."),
		Completed:  counter("requests_completed_total", "One-shot requests completed."),
		Periods:    counter("cyclic_periods_total", "Cyclic periods delivered."),
		Faults:     counter("faults_total", "Transfers the controller flagged as failed."),
		BusyResets: counter("busy_resets_total", "Channels reset because they were enabled while free."),
		Terminated: counter("requests_terminated_total", "Requests dropped by terminate."),
		BoundChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "aicdma",
			Name:        "bound_channels",
			Help:        "Physical channels currently bound to a virtual channel.",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Submitted,
		m.Started,
		m.Completed,
		m.Periods,
		m.Faults,
		m.BusyResets,
		m.Terminated,
		m.BoundChannels,
	}
}
