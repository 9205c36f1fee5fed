// Package postgres implements the evidence store on Postgres with pg_trgm
// for title similarity and pgvector for chunk embeddings.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
)

var ErrChunkNotFound = errors.New("chunk not found")

// Query parameters are always cast explicitly. Untyped text parameters passed
// to similarity() are ambiguous for the planner.
const (
	similarTitleQuery = `SELECT id, title, similarity(title, $1::text) AS sim FROM pages WHERE similarity(title, $1::text) >= $2::float8 ORDER BY sim DESC, id ASC LIMIT $3`
	titleSubstrQuery  = `SELECT id, title FROM pages WHERE strpos(lower(title), lower($1::text)) > 0 ORDER BY id ASC LIMIT $2`
	anyKeywordQuery   = `SELECT id, title, similarity(title, $1::text) AS sim FROM pages WHERE title ILIKE ANY($2::text[]) ORDER BY sim DESC, id ASC LIMIT $3`

	chunkColumns     = `c.id, c.page_id, c.chunk_idx, p.title, c.content, c.embedded_at IS NOT NULL`
	chunksByPages    = `SELECT ` + chunkColumns + ` FROM chunks c JOIN pages p ON p.id = c.page_id WHERE c.page_id = ANY($1::bigint[])`
	chunkOrderLimit  = ` ORDER BY c.page_id ASC, c.chunk_idx ASC LIMIT $2`
	chunkWindowQuery = `SELECT ` + chunkColumns + ` FROM chunks c JOIN pages p ON p.id = c.page_id WHERE c.page_id = $1 AND c.chunk_idx BETWEEN $2 AND $3 ORDER BY c.chunk_idx ASC`
	chunksByIDsQuery = `SELECT ` + chunkColumns + ` FROM chunks c JOIN pages p ON p.id = c.page_id WHERE c.id = ANY($1::bigint[]) ORDER BY c.id ASC`
	nearestQuery     = `SELECT ` + chunkColumns + `, c.embedding <=> $2::vector AS distance FROM chunks c JOIN pages p ON p.id = c.page_id WHERE c.page_id = ANY($1::bigint[]) AND c.embedding IS NOT NULL ORDER BY distance ASC, c.id ASC LIMIT $3`
	ftsRankQuery     = `SELECT id, ts_rank(tsv, plainto_tsquery('simple', $2::text)) FROM chunks WHERE id = ANY($1::bigint[])`

	upsertEmbeddingQuery = `UPDATE chunks SET embedding = $2::vector, embedded_at = NOW() WHERE id = $1`
	markEmbeddedQuery    = `UPDATE chunks SET embedded_at = NOW() WHERE id = $1`
	insertPageQuery      = `INSERT INTO pages (title, url) VALUES ($1, $2) ON CONFLICT (title) DO UPDATE SET url = EXCLUDED.url, updated_at = NOW() RETURNING id`
	upsertChunkQuery     = `INSERT INTO chunks (page_id, chunk_idx, content) VALUES ($1, $2, $3) ON CONFLICT (page_id, chunk_idx) DO UPDATE SET content = EXCLUDED.content, embedding = NULL, embedded_at = NULL WHERE chunks.content <> EXCLUDED.content`
	trimChunksQuery      = `DELETE FROM chunks WHERE page_id = $1 AND chunk_idx >= $2`
	statsQuery           = `SELECT (SELECT COUNT(*) FROM pages), COUNT(*), COUNT(embedded_at) FROM chunks`
)

var embeddingFilters = map[retrieval.EmbeddingFilter]string{
	retrieval.AnyEmbedding:     "",
	retrieval.WithEmbedding:    " AND c.embedded_at IS NOT NULL",
	retrieval.MissingEmbedding: " AND c.embedded_at IS NULL",
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindPagesBySimilarTitle(ctx context.Context, query string, floor float64, limit int) ([]retrieval.PageMatch, error) {
	return s.pageMatches(ctx, true, similarTitleQuery, query, floor, limit)
}

func (s *Store) FindPagesByTitleSubstring(ctx context.Context, query string, limit int) ([]retrieval.PageMatch, error) {
	return s.pageMatches(ctx, false, titleSubstrQuery, query, limit)
}

func (s *Store) FindPagesByAnyKeyword(ctx context.Context, query string, keywords []string, limit int) ([]retrieval.PageMatch, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + escapeLike(kw) + "%"
	}
	return s.pageMatches(ctx, true, anyKeywordQuery, query, pq.Array(patterns), limit)
}

func (s *Store) pageMatches(ctx context.Context, withSim bool, query string, args ...any) ([]retrieval.PageMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.PageMatch
	for rows.Next() {
		var m retrieval.PageMatch
		dest := []any{&m.PageID, &m.Title}
		if withSim {
			dest = append(dest, &m.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) FindChunksByPages(ctx context.Context, pageIDs []int64, filter retrieval.EmbeddingFilter, limit int) ([]retrieval.Chunk, error) {
	if len(pageIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	cond, ok := embeddingFilters[filter]
	if !ok {
		return nil, fmt.Errorf("unknown embedding filter %d", filter)
	}
	return s.chunks(ctx, chunksByPages+cond+chunkOrderLimit, pq.Array(pageIDs), limit)
}

func (s *Store) FindChunkWindow(ctx context.Context, pageID int64, lo, hi int) ([]retrieval.Chunk, error) {
	return s.chunks(ctx, chunkWindowQuery, pageID, lo, hi)
}

func (s *Store) FindChunksByIDs(ctx context.Context, ids []int64) ([]retrieval.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.chunks(ctx, chunksByIDsQuery, pq.Array(ids))
}

func (s *Store) chunks(ctx context.Context, query string, args ...any) ([]retrieval.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		if err := rows.Scan(&c.ID, &c.PageID, &c.Index, &c.Title, &c.Content, &c.HasEmbedding); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) NearestChunks(ctx context.Context, pageIDs []int64, vector []float32, limit int) ([]retrieval.ScoredChunk, error) {
	if len(pageIDs) == 0 || len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, nearestQuery, pq.Array(pageIDs), VectorLiteral(vector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.ScoredChunk
	for rows.Next() {
		var sc retrieval.ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.PageID, &sc.Index, &sc.Title, &sc.Content, &sc.HasEmbedding, &sc.Distance); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) FullTextRank(ctx context.Context, chunkIDs []int64, query string) (map[int64]float64, error) {
	out := make(map[int64]float64, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, ftsRankQuery, pq.Array(chunkIDs), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		out[id] = rank
	}
	return out, rows.Err()
}

// UpsertEmbedding overwrites the chunk vector. The same text always embeds to
// the same vector, so concurrent writers converge.
func (s *Store) UpsertEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	return s.exec(ctx, upsertEmbeddingQuery, chunkID, VectorLiteral(vector))
}

// MarkEmbedded records that a chunk's vector lives in an external index.
func (s *Store) MarkEmbedded(ctx context.Context, chunkID int64) error {
	return s.exec(ctx, markEmbeddedQuery, chunkID)
}

func (s *Store) exec(ctx context.Context, query string, chunkID int64, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{chunkID}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrChunkNotFound, chunkID)
	}
	return nil
}

// InsertPage stores a page, keyed by title, and its chunks in one
// transaction. Changed chunk content drops the stale embedding; chunks past
// the new end are removed.
func (s *Store) InsertPage(ctx context.Context, title, url string, contents []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, insertPageQuery, title, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}
	for i, c := range contents {
		if _, err := tx.ExecContext(ctx, upsertChunkQuery, id, i, c); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, trimChunksQuery, id, len(contents)); err != nil {
		return 0, fmt.Errorf("trim chunks: %w", err)
	}
	return id, tx.Commit()
}

type Stats struct {
	Pages    int `json:"pages"`
	Chunks   int `json:"chunks"`
	Embedded int `json:"embedded"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(&st.Pages, &st.Chunks, &st.Embedded)
	return st, err
}

// VectorLiteral renders v in pgvector text form, e.g. "[0.1,0.2]".
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
