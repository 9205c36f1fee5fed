// Package nsq publishes pipeline events and backfill tasks to NSQ.
package nsq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gonsq "github.com/nsqio/go-nsq"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
)

// Publisher is the subset of *nsq.Producer used here.
type Publisher interface {
	Publish(topic string, body []byte) error
}

var _ Publisher = (*gonsq.Producer)(nil)

// BackfillTask asks the backfill worker to embed missing chunks of pages.
type BackfillTask struct {
	PageIDs []int64 `json:"page_ids"`
	TraceID string  `json:"trace_id,omitempty"`
	// Round counts how many times the task has been continued.
	Round int `json:"round,omitempty"`
}

type BackfillPublisher struct {
	pub   Publisher
	topic string
}

func NewBackfillPublisher(pub Publisher, topic string) *BackfillPublisher {
	return &BackfillPublisher{pub: pub, topic: topic}
}

func (p *BackfillPublisher) PublishBackfill(ctx context.Context, pageIDs []int64, traceID string) error {
	return p.Publish(ctx, BackfillTask{PageIDs: pageIDs, TraceID: traceID})
}

func (p *BackfillPublisher) Publish(ctx context.Context, task BackfillTask) error {
	if len(task.PageIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.pub.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	slog.InfoContext(ctx, "backfill task published", "topic", p.topic, "pages", len(task.PageIDs), "round", task.Round)
	return nil
}

// Emitter publishes every event as JSON. Publishing blocks on the network, so
// it belongs behind a stream.Async.
type Emitter struct {
	pub   Publisher
	topic string
}

func NewEmitter(pub Publisher, topic string) *Emitter {
	return &Emitter{pub: pub, topic: topic}
}

func (e *Emitter) Emit(ev stream.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to encode pipeline event", "error", err, "trace_id", ev.TraceID)
		return
	}
	if err := e.pub.Publish(e.topic, body); err != nil {
		slog.Warn("failed to publish pipeline event", "error", err, "topic", e.topic, "trace_id", ev.TraceID, "seq", ev.Seq)
	}
}
