package stages

import (
	"context"
	"slices"
	"strings"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

const defaultMaxRationale = 5

// DefaultPolicy keeps only citations that refer to selected evidence, clamps
// confidence to [0,1] and tidies the rationale.
type DefaultPolicy struct {
	MaxRationale int
}

func (p DefaultPolicy) Apply(_ context.Context, v pipeline.Verdict, evidence []pipeline.ScoredEvidence) (pipeline.Verdict, error) {
	limit := p.MaxRationale
	if limit <= 0 {
		limit = defaultMaxRationale
	}

	known := evidenceIDs(evidence)
	citations := []pipeline.Citation{}
	seen := map[string]struct{}{}
	for _, c := range v.Citations {
		if _, ok := known[c.EvidenceID]; !ok {
			continue
		}
		if _, dup := seen[c.EvidenceID]; dup {
			continue
		}
		seen[c.EvidenceID] = struct{}{}
		citations = append(citations, c)
	}
	v.Citations = citations

	rationale := []string{}
	for _, r := range v.Rationale {
		if r = strings.TrimSpace(r); r != "" {
			rationale = append(rationale, r)
		}
		if len(rationale) == limit {
			break
		}
	}
	v.Rationale = rationale

	v.Summary = strings.TrimSpace(v.Summary)
	v.Confidence = clamp01(v.Confidence)
	if !slices.Contains(pipeline.Labels, v.Label) {
		v.Label = pipeline.LabelUnverified
	}
	return v, nil
}

type PolicyStage struct {
	policy Policy
}

func (p *PolicyStage) Name() pipeline.StageName { return pipeline.StagePolicy }

func (p *PolicyStage) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	final, err := p.policy.Apply(ctx, *s.Verdict, s.Aggregate.Evidence)
	if err != nil {
		return pipeline.State{}, err
	}
	return pipeline.State{Final: &final}, nil
}
