package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
)

const (
	DefaultTopK      = 8
	DefaultWindow    = 1
	DefaultPageLimit = 8
	DefaultMaxChars  = 6000
)

// Condition is a degraded-retrieval state reported in Debug.
type Condition string

const (
	ConditionLexicalMiss         Condition = "lexical_miss"
	ConditionVectorUnavailable   Condition = "vector_unavailable"
	ConditionEmbeddingCapReached Condition = "embedding_cap_reached"
)

type Options struct {
	TopK                  int           `json:"top_k"`
	Window                int           `json:"window"`
	PageLimit             int           `json:"page_limit"`
	EmbedMissing          bool          `json:"embed_missing"`
	EmbedCap              int           `json:"embed_cap"`
	BatchSize             int           `json:"batch_size"`
	MaxChars              int           `json:"max_chars"`
	TitleFloor            float64       `json:"title_floor"`
	FallbackChunksPerPage int           `json:"fallback_chunks_per_page"`
	FallbackMaxPages      int           `json:"fallback_max_pages"`
	Oversample            int           `json:"oversample"`
	Weights               FusionWeights `json:"weights"`
	SnippetChars          int           `json:"snippet_chars"`
}

func Defaults() Options {
	return Options{
		TopK:                  DefaultTopK,
		Window:                DefaultWindow,
		PageLimit:             DefaultPageLimit,
		EmbedMissing:          true,
		EmbedCap:              DefaultEmbedCap,
		BatchSize:             DefaultBatchSize,
		MaxChars:              DefaultMaxChars,
		TitleFloor:            DefaultTitleFloor,
		FallbackChunksPerPage: DefaultFallbackChunksPerPage,
		FallbackMaxPages:      DefaultFallbackMaxPages,
		Oversample:            DefaultOversample,
		Weights:               DefaultFusionWeights(),
		SnippetChars:          DefaultSnippetChars,
	}
}

// withDefaults fills zero-valued knobs. Window and MaxChars keep zero as a
// meaningful value and are only reset when negative.
func (o Options) withDefaults() Options {
	d := Defaults()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.Window < 0 {
		o.Window = 0
	}
	if o.PageLimit <= 0 {
		o.PageLimit = d.PageLimit
	}
	if o.EmbedCap < 0 {
		o.EmbedCap = 0
	}
	if o.MaxChars < 0 {
		o.MaxChars = 0
	}
	if o.TitleFloor <= 0 {
		o.TitleFloor = d.TitleFloor
	}
	if o.Weights == (FusionWeights{}) {
		o.Weights = d.Weights
	}
	return o
}

type Debug struct {
	LexicalMiss         bool             `json:"lexical_miss"`
	VectorUnavailable   bool             `json:"vector_unavailable"`
	FallbackUsed        bool             `json:"fallback_used"`
	EmbeddingCapReached bool             `json:"embedding_cap_reached"`
	CandidateTier       SourceSignal     `json:"candidate_tier,omitempty"`
	MissingEmbeddings   int              `json:"missing_embeddings"`
	ContextTruncated    bool             `json:"context_truncated"`
	EmbedError          string           `json:"embed_error,omitempty"`
	BackfillError       string           `json:"backfill_error,omitempty"`
	Timings             map[string]int64 `json:"timings_ms"`
}

// Conditions lists the degraded states, in a fixed order.
func (d Debug) Conditions() []Condition {
	var out []Condition
	if d.LexicalMiss {
		out = append(out, ConditionLexicalMiss)
	}
	if d.VectorUnavailable {
		out = append(out, ConditionVectorUnavailable)
	}
	if d.EmbeddingCapReached {
		out = append(out, ConditionEmbeddingCapReached)
	}
	return out
}

type Result struct {
	Candidates        []CandidatePage  `json:"candidates"`
	Hits              []Hit            `json:"hits"`
	Context           string           `json:"context"`
	Windows           []ContextWindow  `json:"windows"`
	Snippets          map[int64]string `json:"snippets"`
	UpdatedEmbeddings int              `json:"updated_embeddings"`
	Debug             Debug            `json:"debug"`
}

// HybridRetriever composes candidate generation, embedding backfill, vector
// rerank and window packing.
type HybridRetriever struct {
	store    EvidenceStore
	embedder inference.BatchEmbedder
	defaults Options
	qlog     *QueryLogger
}

// NewHybridRetriever builds a retriever. embedder may be nil, in which case
// every call takes the lexical fallback path.
func NewHybridRetriever(store EvidenceStore, embedder inference.BatchEmbedder, defaults Options, qlog *QueryLogger) *HybridRetriever {
	return &HybridRetriever{store: store, embedder: embedder, defaults: defaults.withDefaults(), qlog: qlog}
}

// Options returns the retriever's configured defaults.
func (r *HybridRetriever) Options() Options {
	return r.defaults
}

func (r *HybridRetriever) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults()
	res := &Result{Snippets: map[int64]string{}, Debug: Debug{Timings: map[string]int64{}}}
	mark := func(name string, t time.Time) { res.Debug.Timings[name] = time.Since(t).Milliseconds() }

	t := time.Now()
	cands, err := NewCandidateGenerator(r.store, opts.TitleFloor).FindCandidates(ctx, query, opts.PageLimit)
	mark("candidates", t)
	if err != nil {
		return nil, err
	}
	res.Candidates = cands.Pages
	res.Debug.CandidateTier = cands.Tier
	if cands.LexicalMiss || len(cands.Pages) == 0 {
		res.Debug.LexicalMiss = true
		r.log(ctx, query, res, start)
		return res, nil
	}
	ids := pageIDs(cands.Pages)

	if opts.EmbedMissing && r.embedder != nil && opts.EmbedCap > 0 {
		t = time.Now()
		bf, err := NewEmbeddingCache(r.store, r.embedder, opts.BatchSize).Backfill(ctx, ids, opts.EmbedCap)
		mark("backfill", t)
		res.UpdatedEmbeddings = bf.Updated
		res.Debug.MissingEmbeddings = bf.Missing
		res.Debug.EmbeddingCapReached = bf.CapReached
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.WarnContext(ctx, "embedding backfill failed", "error", err, "updated", bf.Updated)
			res.Debug.BackfillError = err.Error()
		}
	}

	var vec []float32
	if r.embedder != nil {
		t = time.Now()
		vec, err = r.embedder.Embed(ctx, query)
		mark("embed", t)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.WarnContext(ctx, "query embedding failed, using lexical fallback", "error", err)
			res.Debug.EmbedError = err.Error()
			vec = nil
		}
	}

	t = time.Now()
	rr, err := NewVectorReranker(r.store, RerankConfig{
		Weights:               opts.Weights,
		Oversample:            opts.Oversample,
		FallbackChunksPerPage: opts.FallbackChunksPerPage,
		FallbackMaxPages:      opts.FallbackMaxPages,
	}).Rerank(ctx, RerankInput{Pages: cands.Pages, Query: query, Vector: vec, TopK: opts.TopK})
	mark("rerank", t)
	if err != nil {
		return nil, err
	}
	res.Debug.VectorUnavailable = rr.VectorUnavailable
	res.Debug.FallbackUsed = rr.FallbackUsed

	t = time.Now()
	packed, err := NewWindowPacker(r.store, opts.SnippetChars).Pack(ctx, rr.Hits, opts.Window, opts.MaxChars, queryKeywords(query))
	mark("pack", t)
	if err != nil {
		return nil, err
	}
	for i := range rr.Hits {
		rr.Hits[i].Snippet = packed.Snippets[rr.Hits[i].ChunkID]
	}
	res.Hits = rr.Hits
	res.Windows = packed.Windows
	res.Snippets = packed.Snippets
	res.Context = packed.Context
	res.Debug.ContextTruncated = packed.Truncated

	r.log(ctx, query, res, start)
	return res, nil
}

func (r *HybridRetriever) log(ctx context.Context, query string, res *Result, start time.Time) {
	elapsed := time.Since(start)
	slog.InfoContext(ctx, "retrieval finished",
		"candidates", len(res.Candidates),
		"hits", len(res.Hits),
		"tier", res.Debug.CandidateTier,
		"conditions", res.Debug.Conditions(),
		"duration_ms", elapsed.Milliseconds(),
	)
	if r.qlog == nil {
		return
	}
	ids := make([]int64, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ChunkID
	}
	r.qlog.Log(QueryLogEntry{
		TraceID:           middleware.GetTraceID(ctx),
		Query:             query,
		Tier:              res.Debug.CandidateTier,
		NumCandidates:     len(res.Candidates),
		NumResults:        len(res.Hits),
		ChunkIDs:          ids,
		UpdatedEmbeddings: res.UpdatedEmbeddings,
		Conditions:        res.Debug.Conditions(),
		PhasesMs:          res.Debug.Timings,
		Duration:          elapsed,
	})
}
