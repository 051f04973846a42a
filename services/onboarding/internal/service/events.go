package service

import (
	"context"
	"time"

	"github.com/xx-3-xx/BankWebsite/libs/kafka"
)

const (
	eventStepCompleted = "onboarding.step.completed"
	eventVersion       = 1
	publishTimeout     = 3 * time.Second
)

type StepCompletedEvent struct {
	kafka.Envelope
	Step       string            `json:"step"`
	EntityID   string            `json:"entity_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// publishStep emits a completion event. Publishing is best effort; the step
// already succeeded for the client.
func (s *OnboardingService) publishStep(ctx context.Context, step, entityID string, meta RequestMeta, attrs map[string]string) {
	if s.producer == nil || s.topic == "" {
		return
	}

	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(eventStepCompleted, step, entityID),
		eventStepCompleted,
		eventVersion,
		meta.RequestID,
	)
	if err != nil {
		s.logger.Error("build event envelope failed", "step", step, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	status := "ok"
	if _, _, err := s.producer.PublishJSON(pubCtx, s.topic, entityID, StepCompletedEvent{
		Envelope:   env,
		Step:       step,
		EntityID:   entityID,
		Attributes: attrs,
	}); err != nil {
		status = "error"
		s.logger.Warn("publish step event failed", "step", step, "entity_id", entityID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(step, status).Inc()
	}
}
