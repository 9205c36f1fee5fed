package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

type fakePage struct {
	id    int64
	title string
}

// memStore is an in-memory EvidenceStore with simplified lexical semantics:
// title similarity is token Jaccard.
type memStore struct {
	mu      sync.Mutex
	pages   []fakePage
	chunks  []Chunk
	upserts int
}

func (s *memStore) addPage(id int64, title string, contents ...string) {
	s.pages = append(s.pages, fakePage{id: id, title: title})
	for i, c := range contents {
		s.chunks = append(s.chunks, Chunk{
			ID:      id*1000 + int64(i),
			PageID:  id,
			Index:   i,
			Title:   title,
			Content: c,
		})
	}
}

func jaccard(a, b string) float64 {
	as, bs := map[string]bool{}, map[string]bool{}
	for _, t := range text.Tokenize(a) {
		as[t] = true
	}
	for _, t := range text.Tokenize(b) {
		bs[t] = true
	}
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for t := range as {
		if bs[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(as)+len(bs)-inter)
}

func (s *memStore) FindPagesBySimilarTitle(_ context.Context, q string, floor float64, limit int) ([]PageMatch, error) {
	var out []PageMatch
	for _, p := range s.pages {
		if sim := jaccard(p.title, q); sim >= floor {
			out = append(out, PageMatch{PageID: p.id, Title: p.title, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return truncate(out, limit), nil
}

func (s *memStore) FindPagesByTitleSubstring(_ context.Context, q string, limit int) ([]PageMatch, error) {
	var out []PageMatch
	for _, p := range s.pages {
		if strings.Contains(strings.ToLower(p.title), strings.ToLower(q)) {
			out = append(out, PageMatch{PageID: p.id, Title: p.title})
		}
	}
	return truncate(out, limit), nil
}

func (s *memStore) FindPagesByAnyKeyword(_ context.Context, q string, keywords []string, limit int) ([]PageMatch, error) {
	var out []PageMatch
	for _, p := range s.pages {
		if text.MatchedKeywords(p.title, keywords) > 0 {
			out = append(out, PageMatch{PageID: p.id, Title: p.title, Similarity: jaccard(p.title, q)})
		}
	}
	return truncate(out, limit), nil
}

func (s *memStore) FindChunksByPages(_ context.Context, pageIDs []int64, filter EmbeddingFilter, limit int) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := map[int64]bool{}
	for _, id := range pageIDs {
		in[id] = true
	}
	var out []Chunk
	for _, c := range s.sorted() {
		if !in[c.PageID] {
			continue
		}
		if filter == WithEmbedding && !c.HasEmbedding || filter == MissingEmbedding && c.HasEmbedding {
			continue
		}
		out = append(out, c)
	}
	return truncate(out, limit), nil
}

func (s *memStore) FindChunkWindow(_ context.Context, pageID int64, lo, hi int) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Chunk
	for _, c := range s.sorted() {
		if c.PageID == pageID && c.Index >= lo && c.Index <= hi {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) NearestChunks(_ context.Context, pageIDs []int64, vec []float32, limit int) ([]ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := map[int64]bool{}
	for _, id := range pageIDs {
		in[id] = true
	}
	var out []ScoredChunk
	for _, c := range s.chunks {
		if in[c.PageID] && c.HasEmbedding {
			out = append(out, ScoredChunk{Chunk: c, Distance: cosineDistance(vec, c.Embedding)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *memStore) FullTextRank(_ context.Context, chunkIDs []int64, q string) (map[int64]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range chunkIDs {
		want[id] = true
	}
	kws := text.Keywords(q)
	out := map[int64]float64{}
	for _, c := range s.chunks {
		if want[c.ID] {
			out[c.ID] = float64(text.CountOccurrences(c.Content, kws))
		}
	}
	return out, nil
}

func (s *memStore) UpsertEmbedding(_ context.Context, chunkID int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chunks {
		if s.chunks[i].ID == chunkID {
			s.chunks[i].Embedding = vec
			s.chunks[i].HasEmbedding = true
			s.upserts++
		}
	}
	return nil
}

func (s *memStore) embeddedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.HasEmbedding {
			n++
		}
	}
	return n
}

func (s *memStore) sorted() []Chunk {
	out := append([]Chunk(nil), s.chunks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// bowEmbedder hashes tokens into a small bag-of-words vector.
type bowEmbedder struct {
	mu       sync.Mutex
	calls    int
	maxBatch int
	err      error
	onBatch  func()
}

func bow(s string) []float32 {
	v := make([]float32, 16)
	for _, t := range text.Tokenize(s) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(t))
		v[h.Sum32()%16]++
	}
	v[15] += 0.01
	return v
}

func (e *bowEmbedder) Embed(_ context.Context, s string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return bow(s), nil
}

func (e *bowEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	if len(texts) > e.maxBatch {
		e.maxBatch = len(texts)
	}
	hook := e.onBatch
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bow(t)
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
