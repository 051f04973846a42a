package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	StepRequests      *prometheus.CounterVec
	StepLatency       *prometheus.HistogramVec
	FaceConfidence    prometheus.Histogram
	CodesIssued       prometheus.Counter
	CodeVerifications *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		StepRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_step_requests_total",
				Help: "Onboarding step requests by step and result.",
			},
			[]string{"step", "result"},
		),
		StepLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboarding_step_latency_seconds",
				Help:    "Onboarding step latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
			},
			[]string{"step", "result"},
		),
		FaceConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "onboarding_face_confidence",
				Help:    "Confidence reported by the face analyzer.",
				Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
			},
		),
		CodesIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "onboarding_verification_codes_issued_total",
				Help: "Verification codes issued.",
			},
		),
		CodeVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_verification_checks_total",
				Help: "Verification code checks by result.",
			},
			[]string{"result"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_events_published_total",
				Help: "Step completion events by result.",
			},
			[]string{"step", "status"},
		),
	}

	registry.MustRegister(
		m.StepRequests,
		m.StepLatency,
		m.FaceConfidence,
		m.CodesIssued,
		m.CodeVerifications,
		m.EventsPublished,
	)
	return m
}
