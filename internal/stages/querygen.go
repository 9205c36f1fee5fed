package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

var querySchema = &inference.Schema{
	Type: inference.TypeObject,
	Properties: map[string]*inference.Schema{
		"queries": {Type: inference.TypeArray, Items: &inference.Schema{Type: inference.TypeString}},
	},
	Required: []string{"queries"},
}

type QueryGeneration struct {
	gen inference.Generator
	max int
}

func (q *QueryGeneration) Name() pipeline.StageName { return pipeline.StageQueryGeneration }

func (q *QueryGeneration) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	var out struct {
		Queries []string `json:"queries"`
	}
	err := inference.Decode(ctx, q.gen, queryPrompt(s.Claim, q.max), querySchema, &out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.State{}, ctxErr
		}
		slog.WarnContext(ctx, "query generation failed, using fallback variants", "error", err)
		return pipeline.State{Queries: &pipeline.Queries{Variants: FallbackQueries(s.Claim.Text, q.max), Fallback: true}}, nil
	}

	variants := dedupQueries(out.Queries, q.max)
	if len(variants) == 0 {
		return pipeline.State{Queries: &pipeline.Queries{Variants: FallbackQueries(s.Claim.Text, q.max), Fallback: true}}, nil
	}
	return pipeline.State{Queries: &pipeline.Queries{Variants: variants}}, nil
}

// FallbackQueries derives query variants without a model: the claim itself
// and its keywords.
func FallbackQueries(claim string, limit int) []string {
	kws := text.Keywords(claim)
	candidates := []string{claim, strings.Join(kws, " ")}
	if len(kws) > 3 {
		candidates = append(candidates, strings.Join(kws[:3], " "))
	}
	return dedupQueries(candidates, limit)
}

func dedupQueries(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, q := range in {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
