package stages

import (
	"context"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

type TopKSelection struct {
	k         int
	perSource int
}

func (t *TopKSelection) Name() pipeline.StageName { return pipeline.StageTopKSelection }

func (t *TopKSelection) Run(_ context.Context, s pipeline.State) (pipeline.State, error) {
	return pipeline.State{Selection: &pipeline.Selection{Items: SelectTopK(s.Scored.Items, t.k, t.perSource)}}, nil
}

// SelectTopK keeps the k best items, at most perSource from any one source,
// in score order with ties broken by ID.
func SelectTopK(items []pipeline.ScoredEvidence, k, perSource int) []pipeline.ScoredEvidence {
	sorted := append([]pipeline.ScoredEvidence(nil), items...)
	sortScored(sorted)

	counts := map[string]int{}
	out := make([]pipeline.ScoredEvidence, 0, min(k, len(sorted)))
	for _, it := range sorted {
		if len(out) == k {
			break
		}
		if perSource > 0 && counts[it.Source] >= perSource {
			continue
		}
		counts[it.Source]++
		out = append(out, it)
	}
	return out
}
