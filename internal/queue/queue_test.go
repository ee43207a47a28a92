package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	published []published
	declared  []string
	err       error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acks, nacks int
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return nil
}

type fakeObjects struct {
	stored map[string]any
}

func (f *fakeObjects) PutJSON(ctx context.Context, key string, v any) error {
	f.stored[key] = v
	return nil
}

type fakeAnalyses struct {
	saved []store.Analysis
}

func (f *fakeAnalyses) SaveAnalysis(ctx context.Context, a store.Analysis) error {
	f.saved = append(f.saved, a)
	return nil
}

func (f *fakeAnalyses) ListAnalyses(ctx context.Context, userID string, limit int) ([]store.Analysis, error) {
	return f.saved, nil
}

func (f *fakeAnalyses) GetAnalysis(ctx context.Context, userID, requestID string) (*store.Analysis, error) {
	return nil, errors.New("not implemented")
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{AnalysisQueue}); err != nil {
		t.Fatal(err)
	}
	want := []string{"analysis_queue", "analysis_queue_dlq", "analysis_queue_retry"}
	if len(ch.declared) != len(want) {
		t.Fatalf("declared %v, want %v", ch.declared, want)
	}
	for i := range want {
		if ch.declared[i] != want[i] {
			t.Fatalf("declared %v, want %v", ch.declared, want)
		}
	}
}

func TestPublishThenProcessAnalysis(t *testing.T) {
	ch := &fakeChannel{}
	g := &common.Graph{Summary: common.Summary{EntityTotal: 3, EdgeCount: 2, Complexity: 15.35}}
	err := PublishAnalysis(context.Background(), ch, QueueAnalysisMsg{
		RequestID: "req1",
		UserID:    "u1",
		Feature:   "mindmap",
		Credits:   2,
		Graph:     g,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.published) != 1 || ch.published[0].key != AnalysisQueue {
		t.Fatalf("unexpected publishes %+v", ch.published)
	}
	if ch.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Fatal("analysis messages must be persistent")
	}

	objects := &fakeObjects{stored: map[string]any{}}
	analyses := &fakeAnalyses{}
	if err := ProcessAnalysisMessage(context.Background(), objects, analyses, ch.published[0].msg.Body); err != nil {
		t.Fatal(err)
	}
	if _, ok := objects.stored["analyses/u1/req1.json"]; !ok {
		t.Fatalf("graph not stored, have %v", objects.stored)
	}
	if len(analyses.saved) != 1 {
		t.Fatalf("expected one analysis row, got %d", len(analyses.saved))
	}
	a := analyses.saved[0]
	if a.Entities != 3 || a.Relationships != 2 || a.Credits != 2 || a.ObjectKey != "analyses/u1/req1.json" {
		t.Fatalf("unexpected analysis %+v", a)
	}
	if a.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be filled")
	}
}

func TestProcessAnalysisMessage_Invalid(t *testing.T) {
	objects := &fakeObjects{stored: map[string]any{}}
	analyses := &fakeAnalyses{}

	bodies := [][]byte{
		[]byte("not json"),
		mustJSON(t, QueueAnalysisMsg{UserID: "u1", Graph: &common.Graph{}}),
		mustJSON(t, QueueAnalysisMsg{RequestID: "r", UserID: "u1"}),
	}
	for _, body := range bodies {
		err := ProcessAnalysisMessage(context.Background(), objects, analyses, body)
		if !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for %s, got %v", body, err)
		}
	}
	if len(objects.stored) != 0 || len(analyses.saved) != 0 {
		t.Fatal("invalid messages must not write anything")
	}
}

func TestHandleFailure(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		cause       error
		wantQueue   string
		wantRetries int
	}{
		{name: "first failure", cause: errors.New("s3 down"), wantQueue: "analysis_queue_retry", wantRetries: 1},
		{name: "later failure", headers: amqp091.Table{"x-retries": int32(4)}, cause: errors.New("s3 down"), wantQueue: "analysis_queue_retry", wantRetries: 5},
		{name: "exhausted", headers: amqp091.Table{"x-retries": int64(10)}, cause: errors.New("s3 down"), wantQueue: "analysis_queue_dlq", wantRetries: 10},
		{name: "poison", cause: ErrInvalidMessage, wantQueue: "analysis_queue_dlq", wantRetries: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte("{}")}

			HandleFailure(context.Background(), ch, msg, AnalysisQueue, tt.cause, DefaultMaxRetries)

			if len(ch.published) != 1 || ch.published[0].key != tt.wantQueue {
				t.Fatalf("published %+v, want queue %s", ch.published, tt.wantQueue)
			}
			if got := retryCount(ch.published[0].msg.Headers); got != tt.wantRetries {
				t.Fatalf("retries = %d, want %d", got, tt.wantRetries)
			}
			if ack.acks != 1 || ack.nacks != 0 {
				t.Fatalf("acks=%d nacks=%d", ack.acks, ack.nacks)
			}
		})
	}
}

func TestHandleFailure_RequeuesWhenRepublishFails(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	ack := &fakeAck{}
	HandleFailure(context.Background(), ch, amqp091.Delivery{Acknowledger: ack}, AnalysisQueue, errors.New("boom"), DefaultMaxRetries)
	if ack.acks != 0 || ack.nacks != 1 {
		t.Fatalf("acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
