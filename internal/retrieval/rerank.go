package retrieval

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

const (
	DefaultOversample            = 3
	DefaultFallbackChunksPerPage = 80
	DefaultFallbackMaxPages      = 20
)

type RerankConfig struct {
	Weights               FusionWeights
	Oversample            int
	FallbackChunksPerPage int
	FallbackMaxPages      int
	OccurrenceCap         int
}

func (c RerankConfig) withDefaults() RerankConfig {
	if c.Weights == (FusionWeights{}) {
		c.Weights = DefaultFusionWeights()
	}
	if c.Oversample < 1 {
		c.Oversample = DefaultOversample
	}
	if c.FallbackChunksPerPage <= 0 {
		c.FallbackChunksPerPage = DefaultFallbackChunksPerPage
	}
	if c.FallbackMaxPages <= 0 {
		c.FallbackMaxPages = DefaultFallbackMaxPages
	}
	if c.OccurrenceCap <= 0 {
		c.OccurrenceCap = DefaultOccurrenceCap
	}
	return c
}

// RerankInput carries the candidate scope. Vector is nil when the query
// could not be embedded.
type RerankInput struct {
	Pages  []CandidatePage
	Query  string
	Vector []float32
	TopK   int
}

type RerankOutput struct {
	Hits              []Hit
	VectorUnavailable bool
	FallbackUsed      bool
}

type VectorReranker struct {
	store EvidenceStore
	cfg   RerankConfig
}

func NewVectorReranker(store EvidenceStore, cfg RerankConfig) *VectorReranker {
	return &VectorReranker{store: store, cfg: cfg.withDefaults()}
}

// Rerank ranks chunks of the candidate pages. Vector hits come first; the
// lexical fallback fills any remaining slots up to TopK.
func (r *VectorReranker) Rerank(ctx context.Context, in RerankInput) (RerankOutput, error) {
	var out RerankOutput
	if in.TopK <= 0 || len(in.Pages) == 0 {
		return out, nil
	}
	keywords := queryKeywords(in.Query)

	var primary []Hit
	if len(in.Vector) > 0 {
		var err error
		primary, err = r.vectorHits(ctx, in, keywords)
		if err != nil {
			return out, err
		}
	}
	if len(primary) == 0 {
		out.VectorUnavailable = true
	}
	if len(primary) >= in.TopK {
		out.Hits = primary[:in.TopK]
		return out, nil
	}

	fallback, err := r.lexicalHits(ctx, in, keywords)
	if err != nil {
		return out, err
	}
	out.Hits = mergeHits(primary, fallback, in.TopK)
	out.FallbackUsed = len(out.Hits) > len(primary)
	return out, nil
}

func (r *VectorReranker) vectorHits(ctx context.Context, in RerankInput, keywords []string) ([]Hit, error) {
	nearest, err := r.store.NearestChunks(ctx, pageIDs(in.Pages), in.Vector, in.TopK*r.cfg.Oversample)
	if err != nil {
		return nil, fmt.Errorf("nearest chunks: %w", err)
	}
	if len(nearest) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(nearest))
	lex := make(map[int64]float64, len(nearest))
	for i, sc := range nearest {
		ids[i] = sc.ID
		lex[sc.ID] = r.lexicalScore(sc.Content, keywords)
	}
	var fts map[int64]float64
	if r.cfg.Weights.FTS != 0 {
		fts, err = r.store.FullTextRank(ctx, ids, in.Query)
		if err != nil {
			return nil, fmt.Errorf("full text rank: %w", err)
		}
		fts = normalizeMax(fts)
	}
	lexNorm := normalizeMax(lex)
	titles, titleScores := pageScores(in.Pages)

	hits := make([]Hit, 0, len(nearest))
	for _, sc := range nearest {
		d := sc.Distance
		hits = append(hits, Hit{
			ChunkID:        sc.ID,
			PageID:         sc.PageID,
			ChunkIndex:     sc.Index,
			Title:          titleOf(titles, sc.Chunk),
			Content:        sc.Content,
			VectorDistance: &d,
			LexicalScore:   lex[sc.ID],
			FusedScore:     r.cfg.Weights.Fuse(VectorScore(d), fts[sc.ID], titleScores[sc.PageID], lexNorm[sc.ID]),
			Source:         HitSourceVector,
		})
	}
	sortHits(hits)
	return hits, nil
}

func (r *VectorReranker) lexicalHits(ctx context.Context, in RerankInput, keywords []string) ([]Hit, error) {
	pages := in.Pages
	if len(pages) > r.cfg.FallbackMaxPages {
		pages = pages[:r.cfg.FallbackMaxPages]
	}
	titles, _ := pageScores(in.Pages)

	var hits []Hit
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := r.store.FindChunksByPages(ctx, []int64{p.PageID}, AnyEmbedding, r.cfg.FallbackChunksPerPage)
		if err != nil {
			return nil, fmt.Errorf("fallback chunks for page %d: %w", p.PageID, err)
		}
		for _, c := range chunks {
			score := r.lexicalScore(c.Content, keywords)
			hits = append(hits, Hit{
				ChunkID:      c.ID,
				PageID:       c.PageID,
				ChunkIndex:   c.Index,
				Title:        titleOf(titles, c),
				Content:      c.Content,
				LexicalScore: score,
				FusedScore:   score,
				Source:       HitSourceLexical,
			})
		}
	}
	sortHits(hits)
	return hits, nil
}

func (r *VectorReranker) lexicalScore(content string, keywords []string) float64 {
	return ChunkLexicalScore(text.CountOccurrences(content, keywords), utf8.RuneCountInString(content), r.cfg.OccurrenceCap)
}

// queryKeywords falls back to the whole normalized query when every token
// was filtered out.
func queryKeywords(q string) []string {
	if kws := text.Keywords(q); len(kws) > 0 {
		return kws
	}
	if n := text.Normalize(q); n != "" {
		return []string{n}
	}
	return nil
}

func pageScores(pages []CandidatePage) (map[int64]string, map[int64]float64) {
	titles := make(map[int64]string, len(pages))
	scores := make(map[int64]float64, len(pages))
	for _, p := range pages {
		titles[p.PageID] = p.Title
		scores[p.PageID] = p.LexicalScore
	}
	return titles, normalizeMax(scores)
}

func titleOf(titles map[int64]string, c Chunk) string {
	if c.Title != "" {
		return c.Title
	}
	return titles[c.PageID]
}

// sortHits orders by fused score descending, chunk_id ascending on ties.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FusedScore != hits[j].FusedScore {
			return hits[i].FusedScore > hits[j].FusedScore
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func mergeHits(primary, fallback []Hit, topK int) []Hit {
	seen := make(map[int64]struct{}, len(primary)+len(fallback))
	out := make([]Hit, 0, topK)
	for _, group := range [][]Hit{primary, fallback} {
		for _, h := range group {
			if len(out) == topK {
				return out
			}
			if _, dup := seen[h.ChunkID]; dup {
				continue
			}
			seen[h.ChunkID] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
