package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

func TestDLQPublisherPublishesOnError(t *testing.T) {
	primary := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "onboarding.dead_letter", slog.Default())

	_, _, err := publisher.PublishJSON(context.Background(), "onboarding.step.completed", "CUST-1", map[string]string{"step": "register"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "onboarding.dead_letter" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	payload, ok := dlq.calls[0].value.(DLQPublishPayload)
	if !ok {
		t.Fatalf("expected DLQPublishPayload, got %T", dlq.calls[0].value)
	}
	if payload.OriginalTopic != "onboarding.step.completed" {
		t.Fatalf("expected original topic to match, got %s", payload.OriginalTopic)
	}
	if payload.Payload == "" {
		t.Fatalf("expected encoded payload")
	}
}

func TestDLQPublisherSkipsOnSuccess(t *testing.T) {
	primary := &stubPublisher{}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "onboarding.dead_letter", slog.Default())

	if _, _, err := publisher.PublishJSON(context.Background(), "onboarding.step.completed", "CUST-1", map[string]string{"step": "register"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish, got %d", len(dlq.calls))
	}
}

func TestSyncProducerRecordsMetrics(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	registry := prometheus.NewRegistry()
	metrics := NewProducerMetrics(registry)
	producer := newSyncProducer(mock, slog.Default(), metrics)
	defer producer.Close()

	if _, _, err := producer.PublishJSON(context.Background(), "onboarding.step.completed", "k", map[string]int{"n": 1}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, _, err := producer.PublishJSON(context.Background(), "onboarding.step.completed", "k", map[string]int{"n": 2}); err == nil {
		t.Fatalf("expected second publish to fail")
	}

	if got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("onboarding.step.completed", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("onboarding.step.completed", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestSyncProducerHonoursCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	producer := newSyncProducer(mock, slog.Default(), nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := producer.PublishJSON(ctx, "t", "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected missing event type to fail")
	}
	if _, err := NewEnvelope("onboarding.step.completed", 0, ""); err == nil {
		t.Fatalf("expected non-positive version to fail")
	}
	env, err := NewEnvelope("onboarding.step.completed", 1, "req-1")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == "" || env.CorrelationID != "req-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if DeterministicEventID("a", "b") != DeterministicEventID("a", "b") {
		t.Fatalf("expected deterministic ids")
	}
}
