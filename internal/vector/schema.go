package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass holds one object per embedded evidence chunk. The Postgres row
// stays the source of truth for text; the object only carries ids.
const ChunkClass = "EvidenceChunk"

type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "chunkId", DataType: []string{"int"}},
		{Name: "pageId", DataType: []string{"int"}},
		{Name: "chunkIdx", DataType: []string{"int"}},
		{Name: "title", DataType: []string{"text"}},
	}
}

// EnsureSchema creates the chunk class, or adds properties missing from an
// existing one.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return err
	}
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ChunkClass,
			Description: "Embedding of an evidence chunk",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: chunkProperties(),
		})
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = true
	}
	for _, p := range chunkProperties() {
		if have[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
			return err
		}
	}
	return nil
}
