package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/ingest"
	"github.com/OFFIS-RIT/kgraph/pkg/loader"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	out []published
	err error
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.out = append(p.out, published{key: key, msg: msg})
	return nil
}

type fakeAcker struct {
	acks, nacks int
	requeued    bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		headers amqp091.Table
		want    int
	}{
		{nil, 0},
		{amqp091.Table{"x-retries": int32(3)}, 3},
		{amqp091.Table{"x-retries": int64(4)}, 4},
		{amqp091.Table{"x-retries": 5}, 5},
		{amqp091.Table{"x-retries": "7"}, 0},
	}
	for _, tt := range tests {
		if got := RetryCount(tt.headers); got != tt.want {
			t.Fatalf("expected %d for %v, got %d", tt.want, tt.headers, got)
		}
	}
}

func TestHandleProcessingError(t *testing.T) {
	t.Run("retry", func(t *testing.T) {
		pub := &fakePublisher{}
		acker := &fakeAcker{}
		msg := amqp091.Delivery{Acknowledger: acker, Body: []byte("{}"), Headers: amqp091.Table{"x-retries": int32(2)}}

		HandleProcessingError(pub, msg, ETLQueue, 3)
		if len(pub.out) != 1 || pub.out[0].key != "etl_queue_retry" {
			t.Fatalf("expected publish to retry queue, got %+v", pub.out)
		}
		if RetryCount(pub.out[0].msg.Headers) != 3 {
			t.Fatalf("expected retry count 3, got %v", pub.out[0].msg.Headers)
		}
		if msg.Headers["x-retries"] != int32(2) {
			t.Fatalf("expected original headers untouched")
		}
		if acker.acks != 1 {
			t.Fatalf("expected original delivery acked")
		}
	})

	t.Run("dead letter", func(t *testing.T) {
		pub := &fakePublisher{}
		acker := &fakeAcker{}
		msg := amqp091.Delivery{Acknowledger: acker, Headers: amqp091.Table{"x-retries": int32(3)}}

		HandleProcessingError(pub, msg, GraphBuildQueue, 3)
		if len(pub.out) != 1 || pub.out[0].key != "graph_build_queue_dlq" || acker.acks != 1 {
			t.Fatalf("expected publish to dlq, got %+v", pub.out)
		}
	})

	t.Run("publish failure requeues", func(t *testing.T) {
		acker := &fakeAcker{}
		HandleProcessingError(&fakePublisher{err: errors.New("closed")}, amqp091.Delivery{Acknowledger: acker}, ETLQueue, 3)
		if acker.acks != 0 || acker.nacks != 1 || !acker.requeued {
			t.Fatalf("expected nack with requeue, got %+v", acker)
		}
	})
}

type docs map[string]loader.Document

func (d docs) Load(ctx context.Context, link string) (loader.Document, error) {
	doc, ok := d[link]
	if !ok {
		return loader.Document{}, errors.New("connection refused")
	}
	return doc, nil
}

type countingRunner struct {
	remaining int
	calls     int
}

func (r *countingRunner) RunOnce(ctx context.Context) (bool, error) {
	r.calls++
	if r.remaining == 0 {
		return false, nil
	}
	r.remaining--
	return true, nil
}

func TestHandler_ETL(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	files := docs{
		"a.txt":   {Link: "a.txt", Name: "a.txt", ContentType: "text/plain", Data: []byte("alpha")},
		"img.png": {Link: "img.png", Name: "img.png", ContentType: "image/png", Data: []byte{1, 2}},
	}
	pipeline := ingest.NewPipeline(ingest.NewPipelineParams{Store: s, Loader: files})

	var ids []string
	for _, link := range []string{"a.txt", "img.png"} {
		raw, _ := s.CreateRawSource(ctx, common.RawDataSource{TopicName: "T", Link: link})
		ids = append(ids, raw.ID)
	}

	var nudges []string
	h := NewHandler(NewHandlerParams{
		Store: s,
		ETL:   pipeline,
		Publish: func(queueName string, body []byte) error {
			nudges = append(nudges, queueName)
			return nil
		},
	})

	body, _ := json.Marshal(ETLMsg{TopicName: "T", RawSourceIDs: append(ids, "unknown")})
	if err := h.Handle(ctx, ETLQueue, body); err != nil {
		t.Fatalf("expected extraction failures not to be retried, got %v", err)
	}
	if len(nudges) != 1 || nudges[0] != GraphBuildQueue {
		t.Fatalf("expected one build nudge, got %v", nudges)
	}

	missing, _ := s.CreateRawSource(ctx, common.RawDataSource{TopicName: "T", Link: "https://down.example.com"})
	body, _ = json.Marshal(ETLMsg{TopicName: "T", RawSourceIDs: []string{missing.ID}})
	if err := h.Handle(ctx, ETLQueue, body); err == nil {
		t.Fatalf("expected load failure to be retried")
	}

	if err := h.Handle(ctx, ETLQueue, []byte("not json")); err != nil {
		t.Fatalf("expected malformed message to be dropped, got %v", err)
	}
	if err := h.Handle(ctx, "other", nil); err == nil {
		t.Fatalf("expected error for unknown queue")
	}
}

func TestHandler_GraphBuildDrains(t *testing.T) {
	runner := &countingRunner{remaining: 2}
	h := NewHandler(NewHandlerParams{Builds: runner})
	if err := h.Handle(context.Background(), GraphBuildQueue, []byte(`{"topic_name":"T"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("expected to run until idle, got %d calls", runner.calls)
	}
}

func TestRecoverStaleRawSources(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	stale, _ := s.CreateRawSource(ctx, common.RawDataSource{TopicName: "T", Link: "a", Status: common.RawStatusProcessing})
	_, _ = s.CreateRawSource(ctx, common.RawDataSource{TopicName: "T", Link: "b", Status: common.RawStatusCompleted})

	var msgs []ETLMsg
	n, err := RecoverStaleRawSources(ctx, s, func(queueName string, body []byte) error {
		var m ETLMsg
		_ = json.Unmarshal(body, &m)
		msgs = append(msgs, m)
		return nil
	})
	if err != nil || n != 1 {
		t.Fatalf("expected one recovered source, got %d %v", n, err)
	}
	if len(msgs) != 1 || len(msgs[0].RawSourceIDs) != 1 || msgs[0].RawSourceIDs[0] != stale.ID {
		t.Fatalf("unexpected republished messages %+v", msgs)
	}
	raw, _ := s.GetRawSource(ctx, stale.ID)
	if raw.Status != common.RawStatusPending {
		t.Fatalf("expected status reset to pending, got %s", raw.Status)
	}
}
