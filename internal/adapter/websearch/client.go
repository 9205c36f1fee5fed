// Package websearch collects live web evidence through Google Custom Search.
package websearch

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const maxResultsPerCall = 10

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	Rank    int    `json:"rank"`
}

type Client struct {
	svc      *customsearch.Service
	engineID string
}

func NewClient(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("web search not configured")
	}
	svc, err := customsearch.NewService(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc, engineID: engineID}, nil
}

// Search returns up to n results ranked by the engine, restricted to lang
// when it is set ("ko", "en").
func (c *Client) Search(ctx context.Context, query string, n int, lang string) ([]Result, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > maxResultsPerCall {
		n = maxResultsPerCall
	}
	call := c.svc.Cse.List().Context(ctx).Cx(c.engineID).Q(query).Num(int64(n))
	if lang != "" {
		call = call.Lr("lang_" + lang)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("custom search: %w", err)
	}

	out := make([]Result, 0, len(res.Items))
	for i, item := range res.Items {
		if item == nil || item.Link == "" {
			continue
		}
		out = append(out, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  item.DisplayLink,
			Rank:    i + 1,
		})
	}
	slog.DebugContext(ctx, "web search finished", "query", query, "results", len(out))
	return out, nil
}
