package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/testutils"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := postgres.NewStore(s.DB)
	ctx := context.Background()

	seoul, err := store.InsertPage(ctx, "국가 수도", "https://example.org/capital", []string{
		"국가 수도는 정부가 위치한 도시이다.",
		"대한민국의 수도는 서울이다.",
		"수도 이전 논의가 있었다.",
	})
	require.NoError(t, err)
	_, err = store.InsertPage(ctx, "부산광역시", "", []string{"부산은 항구 도시이다."})
	require.NoError(t, err)

	// Title similarity with an explicitly typed text parameter.
	pages, err := store.FindPagesBySimilarTitle(ctx, "국가 수도", 0.3, 8)
	require.NoError(t, err)
	require.NotEmpty(t, pages)
	assert.Equal(t, seoul, pages[0].PageID)

	pages, err = store.FindPagesByAnyKeyword(ctx, "부산 항구", []string{"부산"}, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	missing, err := store.FindChunksByPages(ctx, []int64{seoul}, retrieval.MissingEmbedding, 10)
	require.NoError(t, err)
	require.Len(t, missing, 3)

	require.NoError(t, store.UpsertEmbedding(ctx, missing[0].ID, []float32{1, 0, 0}))
	require.NoError(t, store.UpsertEmbedding(ctx, missing[1].ID, []float32{0, 1, 0}))
	// Re-upserting the same vector is a no-op in effect.
	require.NoError(t, store.UpsertEmbedding(ctx, missing[1].ID, []float32{0, 1, 0}))

	near, err := store.NearestChunks(ctx, []int64{seoul}, []float32{0.1, 0.9, 0}, 5)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Equal(t, missing[1].ID, near[0].ID)
	assert.Less(t, near[0].Distance, near[1].Distance)

	window, err := store.FindChunkWindow(ctx, seoul, 1, 5)
	require.NoError(t, err)
	assert.Len(t, window, 2)

	ranks, err := store.FullTextRank(ctx, []int64{missing[0].ID, missing[2].ID}, "수도 이전 논의가")
	require.NoError(t, err)
	assert.Greater(t, ranks[missing[2].ID], ranks[missing[0].ID])

	// Re-ingesting with changed content drops that chunk's embedding and trims the tail.
	_, err = store.InsertPage(ctx, "국가 수도", "https://example.org/capital", []string{
		"국가 수도는 정부가 위치한 도시이다.",
		"수도는 서울특별시이다.",
	})
	require.NoError(t, err)
	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, postgres.Stats{Pages: 2, Chunks: 3, Embedded: 1}, st)
}
