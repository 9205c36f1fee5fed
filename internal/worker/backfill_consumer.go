package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	nsqadapter "github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/nsq"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/metrics"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
)

const (
	DefaultBackfillTimeout = 5 * time.Minute
	DefaultMaxRounds       = 10
)

type Backfiller interface {
	Backfill(ctx context.Context, pageIDs []int64, capacity int) (retrieval.BackfillResult, error)
}

// TaskPublisher re-queues a task whose pages still have missing embeddings.
type TaskPublisher interface {
	Publish(ctx context.Context, task nsqadapter.BackfillTask) error
}

// BackfillConsumer finishes embedding backfills that hit the per-request
// cap. Each message embeds at most capacity chunks; a task that still has
// missing chunks is continued with a new message, up to maxRounds.
type BackfillConsumer struct {
	backfiller Backfiller
	next       TaskPublisher
	capacity   int
	maxRounds  int
	timeout    time.Duration
}

func NewBackfillConsumer(b Backfiller, next TaskPublisher, capacity int) *BackfillConsumer {
	return &BackfillConsumer{
		backfiller: b,
		next:       next,
		capacity:   capacity,
		maxRounds:  DefaultMaxRounds,
		timeout:    DefaultBackfillTimeout,
	}
}

func (h *BackfillConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task nsqadapter.BackfillTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: never retried
		slog.Error("poison pill: invalid backfill task", "error", err)
		return nil
	}
	if len(task.PageIDs) == 0 || h.capacity <= 0 {
		return nil
	}

	ctx := context.Background()
	if task.TraceID != "" {
		ctx = middleware.WithTraceID(ctx, task.TraceID)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.backfiller.Backfill(ctx, task.PageIDs, h.capacity)
	metrics.EmbeddingsBackfilled(res.Updated)
	if err != nil {
		slog.ErrorContext(ctx, "background backfill failed", "error", err, "pages", len(task.PageIDs), "updated", res.Updated)
		return err // requeue
	}
	slog.InfoContext(ctx, "background backfill finished", "pages", len(task.PageIDs), "updated", res.Updated, "cap_reached", res.CapReached, "round", task.Round)

	if res.CapReached && h.next != nil && task.Round+1 < h.maxRounds {
		task.Round++
		if err := h.next.Publish(ctx, task); err != nil {
			slog.WarnContext(ctx, "failed to continue backfill task", "error", err, "round", task.Round)
		}
	}
	return nil
}
