// Package metrics exposes Prometheus counters for the engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Completions      *prometheus.CounterVec
	ServiceFailures  *prometheus.CounterVec
	Feedback         *prometheus.CounterVec
	TrimmedEntries   prometheus.Counter
	ImagesSkipped    prometheus.Counter
	MessagesRecorded prometheus.Counter
}

// New creates the engine counters and registers them with reg when it is
// not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "completions_total",
			Help:      "Generated responses recorded, by kind.",
		}, []string{"kind"}),
		ServiceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "service_failures_total",
			Help:      "Failed calls to external services, by service.",
		}, []string{"service"}),
		Feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "feedback_total",
			Help:      "Feedback events, by correlation result.",
		}, []string{"result"}),
		TrimmedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "context_trimmed_entries_total",
			Help:      "History entries dropped to fit the token budget.",
		}),
		ImagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "images_skipped_total",
			Help:      "Images not captioned because they exceeded the size limit.",
		}),
		MessagesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edubot",
			Name:      "messages_recorded_total",
			Help:      "Messages persisted to the store.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Completions,
			m.ServiceFailures,
			m.Feedback,
			m.TrimmedEntries,
			m.ImagesSkipped,
			m.MessagesRecorded,
		)
	}
	return m
}
