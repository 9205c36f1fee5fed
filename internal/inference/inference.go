// Package inference defines the contracts the verifier needs from a language
// model backend: dense embeddings and schema-constrained generation.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyEmbedding = errors.New("empty embedding received")
	ErrEmptyResponse  = errors.New("empty generation response")
	ErrInvalidJSON    = errors.New("generation response is not valid json")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder returns one vector per input, in input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a JSON document conforming to schema.
type Generator interface {
	Generate(ctx context.Context, prompt string, schema *Schema) (json.RawMessage, error)
}

type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the subset of JSON schema supported by structured generation backends.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Decode generates against schema and unmarshals the document into out.
func Decode(ctx context.Context, g Generator, prompt string, schema *Schema, out any) error {
	raw, err := g.Generate(ctx, prompt, schema)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
