package retrieval

import (
	"context"
)

// SourceSignal names the lexical tier that produced a candidate page.
type SourceSignal string

const (
	SignalTitleSimilarity SourceSignal = "title_similarity"
	SignalTitleSubstring  SourceSignal = "title_substring"
	SignalKeywordAny      SourceSignal = "keyword_any"
)

// HitSource tells whether a hit came from vector rerank or the lexical fallback.
type HitSource string

const (
	HitSourceVector  HitSource = "vector"
	HitSourceLexical HitSource = "lexical"
)

// EmbeddingFilter restricts chunk lookups by embedding presence.
type EmbeddingFilter int

const (
	AnyEmbedding EmbeddingFilter = iota
	WithEmbedding
	MissingEmbedding
)

// PageMatch is a page row returned by a lexical title query.
type PageMatch struct {
	PageID     int64
	Title      string
	Similarity float64
}

type CandidatePage struct {
	PageID       int64        `json:"page_id"`
	Title        string       `json:"title"`
	LexicalScore float64      `json:"lexical_score"`
	Source       SourceSignal `json:"source_signal"`
}

type Chunk struct {
	ID           int64     `json:"chunk_id"`
	PageID       int64     `json:"page_id"`
	Index        int       `json:"chunk_idx"`
	Title        string    `json:"title,omitempty"`
	Content      string    `json:"content"`
	HasEmbedding bool      `json:"has_embedding"`
	Embedding    []float32 `json:"-"`
}

// ScoredChunk is a chunk with its distance to a query vector.
type ScoredChunk struct {
	Chunk
	Distance float64
}

type Hit struct {
	ChunkID        int64     `json:"chunk_id"`
	PageID         int64     `json:"page_id"`
	ChunkIndex     int       `json:"chunk_idx"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Snippet        string    `json:"snippet"`
	VectorDistance *float64  `json:"vector_distance,omitempty"`
	LexicalScore   float64   `json:"lexical_score"`
	FusedScore     float64   `json:"fused_score"`
	Source         HitSource `json:"source"`
}

// ContextWindow is a contiguous, deduplicated run of chunks from one page.
type ContextWindow struct {
	PageID int64   `json:"page_id"`
	Title  string  `json:"title"`
	Chunks []Chunk `json:"chunks"`
	Chars  int     `json:"chars"`
}

// EvidenceStore is the document store holding pages and chunks.
type EvidenceStore interface {
	FindPagesBySimilarTitle(ctx context.Context, query string, floor float64, limit int) ([]PageMatch, error)
	FindPagesByTitleSubstring(ctx context.Context, query string, limit int) ([]PageMatch, error)
	FindPagesByAnyKeyword(ctx context.Context, query string, keywords []string, limit int) ([]PageMatch, error)
	FindChunksByPages(ctx context.Context, pageIDs []int64, filter EmbeddingFilter, limit int) ([]Chunk, error)
	FindChunkWindow(ctx context.Context, pageID int64, lo, hi int) ([]Chunk, error)
	NearestChunks(ctx context.Context, pageIDs []int64, vector []float32, limit int) ([]ScoredChunk, error)
	FullTextRank(ctx context.Context, chunkIDs []int64, query string) (map[int64]float64, error)
	UpsertEmbedding(ctx context.Context, chunkID int64, vector []float32) error
}

func pageIDs(pages []CandidatePage) []int64 {
	ids := make([]int64, len(pages))
	for i, p := range pages {
		ids[i] = p.PageID
	}
	return ids
}
