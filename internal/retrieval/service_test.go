package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
)

func koreanCorpus() *memStore {
	s := &memStore{}
	s.addPage(1, "국가 수도",
		"국가 수도는 한 나라의 정부가 위치한 도시이다.",
		"대한민국의 수도는 서울이며 국가 기관이 모여 있다.",
		"역사적으로 수도는 여러 번 옮겨졌다.",
	)
	s.addPage(2, "서울특별시", "서울은 대한민국의 수도이다.")
	s.addPage(3, "부산광역시", "부산은 항구 도시이다.")
	return s
}

// Zero embeddings anywhere: hits must come from the lexical fallback.
func TestRetrieve_ExactTitleWithoutEmbeddings(t *testing.T) {
	store := koreanCorpus()
	r := NewHybridRetriever(store, nil, Defaults(), nil)

	res, err := r.Retrieve(context.Background(), "국가 수도", r.Options())
	require.NoError(t, err)

	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, int64(1), res.Candidates[0].PageID)
	assert.False(t, res.Debug.LexicalMiss)
	assert.True(t, res.Debug.VectorUnavailable)
	assert.True(t, res.Debug.FallbackUsed)
	require.NotEmpty(t, res.Hits)
	for _, h := range res.Hits {
		assert.Equal(t, HitSourceLexical, h.Source)
		assert.NotEmpty(t, h.Snippet)
	}
	assert.Equal(t, int64(1000), res.Hits[0].ChunkID)
	assert.Contains(t, res.Context, "[국가 수도]")
	assert.Equal(t, []Condition{ConditionVectorUnavailable}, res.Debug.Conditions())
}

func TestRetrieve_BackfillCap(t *testing.T) {
	store := &memStore{}
	for p := 1; p <= 10; p++ {
		contents := make([]string, 100)
		for i := range contents {
			contents[i] = fmt.Sprintf("capital record %d-%d", p, i)
		}
		store.addPage(int64(p), fmt.Sprintf("capital %d", p), contents...)
	}
	emb := &bowEmbedder{}
	opts := Defaults()
	opts.PageLimit = 10
	opts.EmbedCap = 300

	res, err := NewHybridRetriever(store, emb, opts, nil).Retrieve(context.Background(), "capital", opts)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.UpdatedEmbeddings, 300)
	assert.Equal(t, 300, store.embeddedCount())
	assert.True(t, res.Debug.EmbeddingCapReached)
	assert.Contains(t, res.Debug.Conditions(), ConditionEmbeddingCapReached)
	assert.False(t, res.Debug.VectorUnavailable)
	assert.LessOrEqual(t, len(res.Hits), opts.TopK)
}

func TestRetrieve_HitsNeverExceedTopK(t *testing.T) {
	for _, withEmbedder := range []bool{false, true} {
		for topK := 1; topK <= 6; topK++ {
			store := koreanCorpus()
			var emb *bowEmbedder
			r := NewHybridRetriever(store, nil, Defaults(), nil)
			if withEmbedder {
				emb = &bowEmbedder{}
				r = NewHybridRetriever(store, emb, Defaults(), nil)
			}
			opts := r.Options()
			opts.TopK = topK
			opts.Window = 2

			res, err := r.Retrieve(context.Background(), "수도 서울", opts)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(res.Hits), topK)

			seen := map[int64]bool{}
			for _, w := range res.Windows {
				for _, c := range w.Chunks {
					assert.False(t, seen[c.ID], "duplicate chunk %d", c.ID)
					seen[c.ID] = true
				}
			}
		}
	}
}

func TestRetrieve_LexicalMiss(t *testing.T) {
	r := NewHybridRetriever(koreanCorpus(), &bowEmbedder{}, Defaults(), nil)

	res, err := r.Retrieve(context.Background(), "quantum chromodynamics", r.Options())
	require.NoError(t, err)

	assert.True(t, res.Debug.LexicalMiss)
	assert.Empty(t, res.Hits)
	assert.Empty(t, res.Candidates)
	assert.False(t, res.Debug.VectorUnavailable)
	assert.False(t, res.Debug.FallbackUsed)
	assert.Equal(t, []Condition{ConditionLexicalMiss}, res.Debug.Conditions())
}

func TestRetrieve_EmbedErrorDegradesToFallback(t *testing.T) {
	store := koreanCorpus()
	emb := &bowEmbedder{err: errors.New("quota exceeded")}
	r := NewHybridRetriever(store, emb, Defaults(), nil)

	res, err := r.Retrieve(context.Background(), "국가 수도", r.Options())
	require.NoError(t, err)

	assert.Equal(t, "quota exceeded", res.Debug.EmbedError)
	assert.NotEmpty(t, res.Debug.BackfillError)
	assert.True(t, res.Debug.VectorUnavailable)
	assert.NotEmpty(t, res.Hits)
}

func TestRetrieve_VectorPathWhenEmbedded(t *testing.T) {
	store := koreanCorpus()
	emb := &bowEmbedder{}
	r := NewHybridRetriever(store, emb, Defaults(), nil)
	opts := r.Options()
	opts.TopK = 2

	res, err := r.Retrieve(context.Background(), "국가 수도", opts)
	require.NoError(t, err)

	assert.Equal(t, 3, res.UpdatedEmbeddings)
	assert.False(t, res.Debug.VectorUnavailable)
	require.Len(t, res.Hits, 2)
	for _, h := range res.Hits {
		assert.Equal(t, HitSourceVector, h.Source)
		assert.NotNil(t, h.VectorDistance)
	}

	// A second call finds nothing left to backfill.
	res, err = r.Retrieve(context.Background(), "국가 수도", opts)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedEmbeddings)
}

func TestRetrieve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emb := &bowEmbedder{onBatch: cancel}
	store := bigCorpus(2, 100)
	opts := Defaults()
	opts.BatchSize = 16

	_, err := NewHybridRetriever(store, emb, opts, nil).Retrieve(ctx, "capital", opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 16, store.embeddedCount())
}

func TestRetrieve_WritesQueryLog(t *testing.T) {
	var buf bytes.Buffer
	r := NewHybridRetriever(koreanCorpus(), nil, Defaults(), NewQueryLogger(&buf))
	ctx := middleware.WithTraceID(context.Background(), "trace-42")

	_, err := r.Retrieve(ctx, "국가 수도", r.Options())
	require.NoError(t, err)

	var entry QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-42", entry.TraceID)
	assert.Equal(t, "국가 수도", entry.Query)
	assert.Equal(t, []Condition{ConditionVectorUnavailable}, entry.Conditions)
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{Window: -3, MaxChars: -1, EmbedCap: -5}.withDefaults()
	assert.Equal(t, DefaultTopK, o.TopK)
	assert.Equal(t, 0, o.Window)
	assert.Equal(t, 0, o.MaxChars)
	assert.Equal(t, 0, o.EmbedCap)
	assert.Equal(t, DefaultFusionWeights(), o.Weights)
}
