package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       error
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, m.ExistsErr
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client))

	require.NotNil(t, client.CreatedClass)
	assert.Equal(t, ChunkClass, client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)

	types := map[string]string{}
	for _, p := range client.CreatedClass.Properties {
		types[p.Name] = p.DataType[0]
	}
	assert.Equal(t, map[string]string{"chunkId": "int", "pageId": "int", "chunkIdx": "int", "title": "text"}, types)
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{ExistingClass: &models.Class{
		Class: ChunkClass,
		Properties: []*models.Property{
			{Name: "chunkId", DataType: []string{"int"}},
			{Name: "pageId", DataType: []string{"int"}},
		},
	}}
	require.NoError(t, EnsureSchema(context.Background(), client))

	assert.Nil(t, client.CreatedClass)
	var names []string
	for _, p := range client.AddedProperties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"chunkIdx", "title"}, names)
}

func TestEnsureSchema_ExistsError(t *testing.T) {
	client := &MockSchemaClient{ExistsErr: errors.New("unreachable")}
	assert.Error(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)
}
