package o11y

import (
	"time"

	"github.com/0xsequence/identity-flow/proto"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	submissions    *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	captures       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identityflow",
			Name:      "stage_submissions_total",
			Help:      "Stage submissions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "identityflow",
			Name:      "stage_submit_duration_seconds",
			Help:      "Time from submission to applied decision.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identityflow",
			Name:      "captures_total",
			Help:      "Capture attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.submitDuration, m.captures)
	}
	return m
}

// ObserveSubmission implements auth.Metrics.
func (m *Metrics) ObserveSubmission(stage proto.Stage, outcome string, duration time.Duration) {
	m.submissions.WithLabelValues(string(stage), outcome).Inc()
	m.submitDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

// ObserveCapture implements capture.Observer.
func (m *Metrics) ObserveCapture(result string) {
	m.captures.WithLabelValues(result).Inc()
}

func (m *Metrics) Submissions() *prometheus.CounterVec {
	return m.submissions
}

func (m *Metrics) Captures() *prometheus.CounterVec {
	return m.captures
}
