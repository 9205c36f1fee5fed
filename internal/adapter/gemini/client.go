// Package gemini implements the inference contracts on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
)

const (
	DefaultEmbedModel    = "gemini-embedding-001"
	DefaultGenerateModel = "gemini-2.5-flash"
)

type Client struct {
	client      *genai.Client
	embedModel  string
	genModel    string
	temperature float32
}

func NewClient(ctx context.Context, apiKey, embedModel, genModel string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}
	if genModel == "" {
		genModel = DefaultGenerateModel
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, embedModel: embedModel, genModel: genModel, temperature: 0.2}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", c.embedModel, "length", len(text))
	em := c.client.EmbeddingModel(c.embedModel)
	em.TaskType = genai.TaskTypeRetrievalQuery
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, inference.ErrEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts as retrieval documents in a single request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := c.client.EmbeddingModel(c.embedModel)
	em.TaskType = genai.TaskTypeRetrievalDocument
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embed: got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("batch embed item %d: %w", i, inference.ErrEmptyEmbedding)
		}
		out[i] = e.Values
	}
	return out, nil
}

// Generate asks for a JSON response constrained by schema.
func (c *Client) Generate(ctx context.Context, prompt string, schema *inference.Schema) (json.RawMessage, error) {
	model := c.client.GenerativeModel(c.genModel)
	model.SetTemperature(c.temperature)
	model.ResponseMIMEType = "application/json"
	if schema != nil {
		model.ResponseSchema = toGenaiSchema(schema)
	}

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, cand := range res.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	raw := stripFences(sb.String())
	if raw == "" {
		return nil, inference.ErrEmptyResponse
	}
	if !json.Valid([]byte(raw)) {
		return nil, inference.ErrInvalidJSON
	}
	return json.RawMessage(raw), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

var schemaTypes = map[inference.Type]genai.Type{
	inference.TypeObject:  genai.TypeObject,
	inference.TypeArray:   genai.TypeArray,
	inference.TypeString:  genai.TypeString,
	inference.TypeNumber:  genai.TypeNumber,
	inference.TypeInteger: genai.TypeInteger,
	inference.TypeBoolean: genai.TypeBoolean,
}

func toGenaiSchema(s *inference.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaTypes[s.Type],
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Enum) > 0 && s.Type == inference.TypeString {
		out.Format = "enum"
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenaiSchema(p)
		}
	}
	return out
}
