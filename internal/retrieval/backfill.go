package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
)

const (
	DefaultEmbedCap  = 300
	DefaultBatchSize = 32
	MinBatchSize     = 16
	MaxBatchSize     = 64
)

type BackfillResult struct {
	Updated int `json:"updated"`
	// Missing is the number of missing-embedding chunks seen, at most capacity+1.
	Missing    int  `json:"missing"`
	CapReached bool `json:"cap_reached"`
}

// EmbeddingCache fills in missing chunk embeddings for a candidate scope.
type EmbeddingCache struct {
	store     EvidenceStore
	embedder  inference.BatchEmbedder
	batchSize int
}

func NewEmbeddingCache(store EvidenceStore, embedder inference.BatchEmbedder, batchSize int) *EmbeddingCache {
	return &EmbeddingCache{store: store, embedder: embedder, batchSize: clampBatch(batchSize)}
}

func clampBatch(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// EmbeddingText is the text embedded for a chunk. It must stay stable so
// concurrent backfills of one chunk write the same vector.
func EmbeddingText(c Chunk) string {
	if c.Title == "" {
		return c.Content
	}
	return "Title: " + c.Title + "\n---\n" + c.Content
}

// Backfill embeds at most capacity chunks that lack an embedding and belong
// to pageIDs. The selection never leaves pageIDs.
func (c *EmbeddingCache) Backfill(ctx context.Context, pageIDs []int64, capacity int) (BackfillResult, error) {
	var res BackfillResult
	if len(pageIDs) == 0 || capacity <= 0 {
		return res, nil
	}

	// One extra row tells a truncated scope apart from an exact fit.
	missing, err := c.store.FindChunksByPages(ctx, pageIDs, MissingEmbedding, capacity+1)
	if err != nil {
		return res, fmt.Errorf("select missing embeddings: %w", err)
	}
	res.Missing = len(missing)
	if len(missing) > capacity {
		res.CapReached = true
		missing = missing[:capacity]
	}

	for start := 0; start < len(missing); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + c.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = EmbeddingText(ch)
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return res, fmt.Errorf("embed batch at %d: got %d vectors for %d chunks", start, len(vectors), len(batch))
		}
		for i, ch := range batch {
			if len(vectors[i]) == 0 {
				continue
			}
			if err := c.store.UpsertEmbedding(ctx, ch.ID, vectors[i]); err != nil {
				return res, fmt.Errorf("upsert embedding for chunk %d: %w", ch.ID, err)
			}
			res.Updated++
		}
	}

	slog.InfoContext(ctx, "embedding backfill finished",
		"pages", len(pageIDs),
		"updated", res.Updated,
		"cap", capacity,
		"cap_reached", res.CapReached,
	)
	return res, nil
}
