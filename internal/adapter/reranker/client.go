// Package reranker scores evidence passages against a claim with a hosted
// cross-encoder.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

const (
	ProviderNone   = "none"
	ProviderJina   = "jina"
	ProviderCohere = "cohere"
)

type provider struct {
	url   string
	model string
	extra map[string]interface{}
}

var providers = map[string]provider{
	ProviderJina:   {url: "https://api.jina.ai/v1/rerank", model: "jina-reranker-v2-base-multilingual"},
	ProviderCohere: {url: "https://api.cohere.ai/v1/rerank", model: "rerank-multilingual-v3.0", extra: map[string]interface{}{"return_documents": false}},
}

// Result is the relevance of docs[Index].
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Enabled reports whether a hosted provider is configured.
func (c *Client) Enabled() bool {
	_, ok := providers[c.provider]
	return ok && c.apiKey != ""
}

// Score returns one result per scored document, highest score first. With no
// provider configured it returns documents in input order with zero scores.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]Result, error) {
	p, ok := providers[c.provider]
	if !ok || len(docs) == 0 {
		out := make([]Result, len(docs))
		for i := range out {
			out[i] = Result{Index: i}
		}
		return out, nil
	}

	url := p.url
	if c.baseURL != "" {
		url = c.baseURL
	}
	reqBody := map[string]interface{}{
		"model":     p.model,
		"query":     query,
		"documents": docs,
		"top_n":     len(docs),
	}
	for k, v := range p.extra {
		reqBody[k] = v
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s api error: %d", c.provider, resp.StatusCode)
	}

	var result struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < len(docs) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
