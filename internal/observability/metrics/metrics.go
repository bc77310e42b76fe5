package metrics

import "github.com/prometheus/client_golang/prometheus"

// SubmissionMetrics exposes counters/histograms for anamnesis submissions.
type SubmissionMetrics struct {
	outcomeTotal       *prometheus.CounterVec
	submissionDuration prometheus.Histogram
	warningTotal       *prometheus.CounterVec
}

func NewSubmissionMetrics(reg prometheus.Registerer) *SubmissionMetrics {
	m := &SubmissionMetrics{
		outcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anamnesis",
			Subsystem: "submission",
			Name:      "outcome_total",
			Help:      "Total submissions by terminal state",
		}, []string{"state"}),
		submissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anamnesis",
			Subsystem: "submission",
			Name:      "duration_seconds",
			Help:      "End-to-end submission duration",
			Buckets:   prometheus.DefBuckets,
		}),
		warningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anamnesis",
			Subsystem: "submission",
			Name:      "warning_total",
			Help:      "Non-fatal submission warnings by stage",
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomeTotal, m.submissionDuration, m.warningTotal)
	return m
}

func (m *SubmissionMetrics) ObserveOutcome(state string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomeTotal.WithLabelValues(state).Inc()
	m.submissionDuration.Observe(seconds)
}

func (m *SubmissionMetrics) ObserveWarning(stage string) {
	if m == nil {
		return
	}
	m.warningTotal.WithLabelValues(stage).Inc()
}

// EnrichmentMetrics covers the async protocol generation worker.
type EnrichmentMetrics struct {
	jobTotal    *prometheus.CounterVec
	jobDuration prometheus.Histogram
}

func NewEnrichmentMetrics(reg prometheus.Registerer) *EnrichmentMetrics {
	m := &EnrichmentMetrics{
		jobTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anamnesis",
			Subsystem: "enrichment",
			Name:      "job_total",
			Help:      "Total enrichment jobs by final status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anamnesis",
			Subsystem: "enrichment",
			Name:      "job_duration_seconds",
			Help:      "Duration of enrichment job processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobTotal, m.jobDuration)
	return m
}

func (m *EnrichmentMetrics) ObserveJob(status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(seconds)
}

// SessionMetrics tracks live form sessions and presence signals.
type SessionMetrics struct {
	sectionUpdates *prometheus.CounterVec
	signalTotal    *prometheus.CounterVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		sectionUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anamnesis",
			Subsystem: "session",
			Name:      "section_update_total",
			Help:      "Total section updates by section name",
		}, []string{"section"}),
		signalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anamnesis",
			Subsystem: "session",
			Name:      "signal_total",
			Help:      "Presence signals published by kind",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sectionUpdates, m.signalTotal)
	return m
}

func (m *SessionMetrics) ObserveSectionUpdate(section string) {
	if m == nil {
		return
	}
	m.sectionUpdates.WithLabelValues(section).Inc()
}

func (m *SessionMetrics) ObserveSignal(kind string) {
	if m == nil {
		return
	}
	m.signalTotal.WithLabelValues(kind).Inc()
}
