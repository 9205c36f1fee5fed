package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) FindPagesBySimilarTitle(ctx context.Context, q string, floor float64, limit int) ([]PageMatch, error) {
	args := m.Called(ctx, q, floor, limit)
	return args.Get(0).([]PageMatch), args.Error(1)
}

func (m *MockStore) FindPagesByTitleSubstring(ctx context.Context, q string, limit int) ([]PageMatch, error) {
	args := m.Called(ctx, q, limit)
	return args.Get(0).([]PageMatch), args.Error(1)
}

func (m *MockStore) FindPagesByAnyKeyword(ctx context.Context, q string, keywords []string, limit int) ([]PageMatch, error) {
	args := m.Called(ctx, q, keywords, limit)
	return args.Get(0).([]PageMatch), args.Error(1)
}

func (m *MockStore) FindChunksByPages(ctx context.Context, pageIDs []int64, filter EmbeddingFilter, limit int) ([]Chunk, error) {
	args := m.Called(ctx, pageIDs, filter, limit)
	return args.Get(0).([]Chunk), args.Error(1)
}

func (m *MockStore) FindChunkWindow(ctx context.Context, pageID int64, lo, hi int) ([]Chunk, error) {
	args := m.Called(ctx, pageID, lo, hi)
	return args.Get(0).([]Chunk), args.Error(1)
}

func (m *MockStore) NearestChunks(ctx context.Context, pageIDs []int64, vec []float32, limit int) ([]ScoredChunk, error) {
	args := m.Called(ctx, pageIDs, vec, limit)
	return args.Get(0).([]ScoredChunk), args.Error(1)
}

func (m *MockStore) FullTextRank(ctx context.Context, chunkIDs []int64, q string) (map[int64]float64, error) {
	args := m.Called(ctx, chunkIDs, q)
	return args.Get(0).(map[int64]float64), args.Error(1)
}

func (m *MockStore) UpsertEmbedding(ctx context.Context, chunkID int64, vec []float32) error {
	return m.Called(ctx, chunkID, vec).Error(0)
}

func TestFindCandidates_StopsAtFirstTier(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("FindPagesBySimilarTitle", ctx, "seoul capital", DefaultTitleFloor, 5).Return([]PageMatch{
		{PageID: 2, Title: "Seoul", Similarity: 0.4},
		{PageID: 1, Title: "Seoul capital", Similarity: 0.9},
		{PageID: 1, Title: "Seoul capital", Similarity: 0.9},
	}, nil)

	set, err := NewCandidateGenerator(store, 0).FindCandidates(ctx, "seoul capital", 5)
	require.NoError(t, err)

	assert.Equal(t, SignalTitleSimilarity, set.Tier)
	assert.False(t, set.LexicalMiss)
	require.Len(t, set.Pages, 2)
	assert.Equal(t, int64(1), set.Pages[0].PageID)
	assert.InDelta(t, 18.0, set.Pages[0].LexicalScore, 1e-9)
	store.AssertNotCalled(t, "FindPagesByTitleSubstring", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindPagesByAnyKeyword", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFindCandidates_SubstringTier(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("FindPagesBySimilarTitle", ctx, "ab", DefaultTitleFloor, 3).Return([]PageMatch{}, nil)
	store.On("FindPagesByTitleSubstring", ctx, "ab", 3).Return([]PageMatch{{PageID: 9, Title: "xaby"}}, nil)

	set, err := NewCandidateGenerator(store, 0).FindCandidates(ctx, "ab", 3)
	require.NoError(t, err)

	assert.Equal(t, SignalTitleSubstring, set.Tier)
	require.Len(t, set.Pages, 1)
	assert.Equal(t, TitleSubstringScore(), set.Pages[0].LexicalScore)
	assert.Equal(t, SignalTitleSubstring, set.Pages[0].Source)
}

// 20 keyword pages and 3 exact-title pages: an exact title ranks first.
func TestFindCandidates_ExactTitleRanksFirst(t *testing.T) {
	ctx := context.Background()
	query := "국가 수도"
	var rows []PageMatch
	for i := 0; i < 20; i++ {
		rows = append(rows, PageMatch{PageID: int64(100 + i), Title: fmt.Sprintf("국가 수도 목록 %d", i), Similarity: 0.6})
	}
	rows = append(rows,
		PageMatch{PageID: 7, Title: "국가 수도", Similarity: 0.2},
		PageMatch{PageID: 8, Title: "국가  수도", Similarity: 0.2},
		PageMatch{PageID: 9, Title: "국가 수도", Similarity: 0.1},
	)
	store := new(MockStore)
	store.On("FindPagesBySimilarTitle", ctx, query, DefaultTitleFloor, 8).Return([]PageMatch{}, nil)
	store.On("FindPagesByTitleSubstring", ctx, query, 8).Return([]PageMatch{}, nil)
	store.On("FindPagesByAnyKeyword", ctx, query, []string{"국가", "수도"}, 50).Return(rows, nil)

	set, err := NewCandidateGenerator(store, 0).FindCandidates(ctx, query, 8)
	require.NoError(t, err)

	assert.Equal(t, SignalKeywordAny, set.Tier)
	require.Len(t, set.Pages, 8)
	assert.Equal(t, int64(7), set.Pages[0].PageID)
	assert.ElementsMatch(t, []int64{7, 8, 9}, []int64{set.Pages[0].PageID, set.Pages[1].PageID, set.Pages[2].PageID})
	for i := 1; i < len(set.Pages); i++ {
		assert.GreaterOrEqual(t, set.Pages[i-1].LexicalScore, set.Pages[i].LexicalScore)
	}
	store.AssertExpectations(t)
}

func TestFindCandidates_LexicalMiss(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("FindPagesBySimilarTitle", ctx, mock.Anything, mock.Anything, mock.Anything).Return([]PageMatch{}, nil)
	store.On("FindPagesByTitleSubstring", ctx, mock.Anything, mock.Anything).Return([]PageMatch{}, nil)
	store.On("FindPagesByAnyKeyword", ctx, mock.Anything, mock.Anything, mock.Anything).Return([]PageMatch{}, nil)

	set, err := NewCandidateGenerator(store, 0).FindCandidates(ctx, "unknown topic", 8)
	require.NoError(t, err)
	assert.True(t, set.LexicalMiss)
	assert.Empty(t, set.Pages)

	// Stopword-only queries never reach the keyword tier.
	set, err = NewCandidateGenerator(store, 0).FindCandidates(ctx, "the of", 8)
	require.NoError(t, err)
	assert.True(t, set.LexicalMiss)

	set, err = NewCandidateGenerator(store, 0).FindCandidates(ctx, "   ", 8)
	require.NoError(t, err)
	assert.True(t, set.LexicalMiss)
}

func TestFindCandidates_StoreError(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("FindPagesBySimilarTitle", ctx, "q1", DefaultTitleFloor, 8).Return([]PageMatch(nil), errors.New("db down"))

	_, err := NewCandidateGenerator(store, 0).FindCandidates(ctx, "q1", 8)
	assert.ErrorContains(t, err, "title similarity tier")
}
