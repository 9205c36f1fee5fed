package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
)

var chunkCols = []string{"id", "page_id", "chunk_idx", "title", "content", "embedded"}

func newStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewStore(db), mock
}

func TestStore_FindPagesBySimilarTitle(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, similarity(title, $1::text) AS sim FROM pages WHERE similarity(title, $1::text) >= $2::float8 ORDER BY sim DESC, id ASC LIMIT $3")).
		WithArgs("국가 수도", 0.3, 8).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "sim"}).
			AddRow(1, "국가 수도", 1.0).
			AddRow(4, "국가 수도 목록", 0.55))

	got, err := store.FindPagesBySimilarTitle(context.Background(), "국가 수도", 0.3, 8)
	require.NoError(t, err)
	assert.Equal(t, []retrieval.PageMatch{
		{PageID: 1, Title: "국가 수도", Similarity: 1},
		{PageID: 4, Title: "국가 수도 목록", Similarity: 0.55},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindPagesByTitleSubstring(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title FROM pages WHERE strpos(lower(title), lower($1::text)) > 0 ORDER BY id ASC LIMIT $2")).
		WithArgs("50%", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(3, "Top 50% earners"))

	got, err := store.FindPagesByTitleSubstring(context.Background(), "50%", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].PageID)
	assert.Zero(t, got[0].Similarity)
}

func TestStore_FindPagesByAnyKeyword(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, similarity(title, $1::text) AS sim FROM pages WHERE title ILIKE ANY($2::text[]) ORDER BY sim DESC, id ASC LIMIT $3")).
		WithArgs("snake_case 100%", pq.Array([]string{`%snake\_case%`, `%100\%%`}), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "sim"}).AddRow(2, "snake_case", 0.4))

	got, err := store.FindPagesByAnyKeyword(context.Background(), "snake_case 100%", []string{"snake_case", "100%"}, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.4, got[0].Similarity)

	got, err = store.FindPagesByAnyKeyword(context.Background(), "x", nil, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindChunksByPages(t *testing.T) {
	base := "SELECT c.id, c.page_id, c.chunk_idx, p.title, c.content, c.embedded_at IS NOT NULL FROM chunks c JOIN pages p ON p.id = c.page_id WHERE c.page_id = ANY($1::bigint[])"
	order := " ORDER BY c.page_id ASC, c.chunk_idx ASC LIMIT $2"

	tests := []struct {
		name   string
		filter retrieval.EmbeddingFilter
		cond   string
	}{
		{"any", retrieval.AnyEmbedding, ""},
		{"with", retrieval.WithEmbedding, " AND c.embedded_at IS NOT NULL"},
		{"missing", retrieval.MissingEmbedding, " AND c.embedded_at IS NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newStore(t)
			mock.ExpectQuery(regexp.QuoteMeta(base+tt.cond+order)).
				WithArgs(pq.Array([]int64{1, 2}), 301).
				WillReturnRows(sqlmock.NewRows(chunkCols).
					AddRow(10, 1, 0, "A", "alpha", false).
					AddRow(20, 2, 3, "B", "beta", true))

			got, err := store.FindChunksByPages(context.Background(), []int64{1, 2}, tt.filter, 301)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, retrieval.Chunk{ID: 20, PageID: 2, Index: 3, Title: "B", Content: "beta", HasEmbedding: true}, got[1])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("empty scope skips query", func(t *testing.T) {
		store, mock := newStore(t)
		got, err := store.FindChunksByPages(context.Background(), nil, retrieval.AnyEmbedding, 10)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown filter", func(t *testing.T) {
		store, _ := newStore(t)
		_, err := store.FindChunksByPages(context.Background(), []int64{1}, retrieval.EmbeddingFilter(9), 10)
		assert.Error(t, err)
	})
}

func TestStore_FindChunkWindow(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.page_id = $1 AND c.chunk_idx BETWEEN $2 AND $3 ORDER BY c.chunk_idx ASC")).
		WithArgs(int64(7), 2, 4).
		WillReturnRows(sqlmock.NewRows(chunkCols).
			AddRow(72, 7, 2, "T", "two", false).
			AddRow(73, 7, 3, "T", "three", false))

	got, err := store.FindChunkWindow(context.Background(), 7, 2, 4)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, got[1].Index)
}

func TestStore_NearestChunks(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("c.embedding <=> $2::vector AS distance")).
		WithArgs(pq.Array([]int64{1}), "[0.5,-1,0.25]", 24).
		WillReturnRows(sqlmock.NewRows(append(chunkCols, "distance")).
			AddRow(11, 1, 0, "A", "alpha", true, 0.12))

	got, err := store.NearestChunks(context.Background(), []int64{1}, []float32{0.5, -1, 0.25}, 24)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.12, got[0].Distance)
	assert.True(t, got[0].HasEmbedding)

	got, err = store.NearestChunks(context.Background(), []int64{1}, nil, 24)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FullTextRank(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, ts_rank(tsv, plainto_tsquery('simple', $2::text)) FROM chunks WHERE id = ANY($1::bigint[])")).
		WithArgs(pq.Array([]int64{1, 2}), "capital").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts_rank"}).AddRow(1, 0.6).AddRow(2, 0.0))

	got, err := store.FullTextRank(context.Background(), []int64{1, 2}, "capital")
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{1: 0.6, 2: 0}, got)
}

func TestStore_UpsertEmbedding(t *testing.T) {
	store, mock := newStore(t)
	q := regexp.QuoteMeta("UPDATE chunks SET embedding = $2::vector, embedded_at = NOW() WHERE id = $1")

	mock.ExpectExec(q).WithArgs(int64(5), "[1,2]").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpsertEmbedding(context.Background(), 5, []float32{1, 2}))

	mock.ExpectExec(q).WithArgs(int64(6), "[1,2]").WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.UpsertEmbedding(context.Background(), 6, []float32{1, 2})
	assert.ErrorIs(t, err, postgres.ErrChunkNotFound)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE chunks SET embedded_at = NOW() WHERE id = $1")).
		WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkEmbedded(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertPage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store, mock := newStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO pages (title, url) VALUES ($1, $2) ON CONFLICT (title)")).
			WithArgs("Seoul", "https://example.com/seoul").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks (page_id, chunk_idx, content)")).
			WithArgs(int64(9), 0, "one").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks (page_id, chunk_idx, content)")).
			WithArgs(int64(9), 1, "two").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chunks WHERE page_id = $1 AND chunk_idx >= $2")).
			WithArgs(int64(9), 2).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		id, err := store.InsertPage(context.Background(), "Seoul", "https://example.com/seoul", []string{"one", "two"})
		require.NoError(t, err)
		assert.Equal(t, int64(9), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnChunkError", func(t *testing.T) {
		store, mock := newStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO pages")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chunks")).WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		_, err := store.InsertPage(context.Background(), "Seoul", "", []string{"one"})
		assert.ErrorContains(t, err, "insert chunk 0")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Stats(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT (SELECT COUNT(*) FROM pages), COUNT(*), COUNT(embedded_at) FROM chunks")).
		WillReturnRows(sqlmock.NewRows([]string{"pages", "chunks", "embedded"}).AddRow(3, 40, 2))

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, postgres.Stats{Pages: 3, Chunks: 40, Embedded: 2}, st)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", postgres.VectorLiteral(nil))
	assert.Equal(t, "[0.1,2,-3.5]", postgres.VectorLiteral([]float32{0.1, 2, -3.5}))
}
