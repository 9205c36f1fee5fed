// Package weaviate keeps chunk embeddings in a Weaviate class while chunk
// text and embedding bookkeeping stay in Postgres.
package weaviate

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/vector"
)

var chunkNamespace = uuid.MustParse("6f1f1c1e-3a52-4fd7-9a4b-5f0c2d8e9b10")

// Catalog is the relational side of the store.
type Catalog interface {
	retrieval.EvidenceStore
	FindChunksByIDs(ctx context.Context, ids []int64) ([]retrieval.Chunk, error)
	MarkEmbedded(ctx context.Context, chunkID int64) error
}

// Store serves lexical queries from the catalog and vector queries from
// Weaviate.
type Store struct {
	Catalog
	client *weaviate.Client
}

func NewStore(catalog Catalog, client *weaviate.Client) *Store {
	return &Store{Catalog: catalog, client: client}
}

// ObjectID is the deterministic object id of a chunk, so repeated upserts of
// one chunk replace the same object.
func ObjectID(chunkID int64) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(strconv.FormatInt(chunkID, 10))).String())
}

func (s *Store) UpsertEmbedding(ctx context.Context, chunkID int64, vec []float32) error {
	chunks, err := s.Catalog.FindChunksByIDs(ctx, []int64{chunkID})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("chunk %d not found", chunkID)
	}
	c := chunks[0]

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(&models.Object{
			Class: vector.ChunkClass,
			ID:    ObjectID(chunkID),
			Properties: map[string]interface{}{
				"chunkId":  c.ID,
				"pageId":   c.PageID,
				"chunkIdx": c.Index,
				"title":    c.Title,
			},
			Vector: vec,
		}).
		Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil || len(r.Result.Errors.Error) == 0 {
			continue
		}
		return fmt.Errorf("batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
	}
	return s.Catalog.MarkEmbedded(ctx, chunkID)
}

// NearestChunks runs a nearVector query limited to pageIDs and hydrates the
// hits from the catalog.
func (s *Store) NearestChunks(ctx context.Context, pageIDs []int64, vec []float32, limit int) ([]retrieval.ScoredChunk, error) {
	if len(pageIDs) == 0 || len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	where := filters.Where().
		WithPath([]string{"pageId"}).
		WithOperator(filters.ContainsAny).
		WithValueInt(pageIDs...)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithWhere(where).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "chunkId"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	distances := make(map[int64]float64)
	var ids []int64
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objs, ok := data[vector.ChunkClass].([]interface{}); ok {
			for _, o := range objs {
				props, ok := o.(map[string]interface{})
				if !ok {
					continue
				}
				raw, ok := props["chunkId"].(float64)
				if !ok {
					continue
				}
				id := int64(raw)
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if d, ok := additional["distance"].(float64); ok {
						distances[id] = d
					}
				}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := s.Catalog.FindChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, retrieval.ScoredChunk{Chunk: c, Distance: distances[c.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
