package stages

import (
	"context"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

const (
	StanceSupport = "support"
	StanceSkeptic = "skeptic"
)

var packSchema = &inference.Schema{
	Type: inference.TypeObject,
	Properties: map[string]*inference.Schema{
		"arguments": {
			Type: inference.TypeArray,
			Items: &inference.Schema{
				Type: inference.TypeObject,
				Properties: map[string]*inference.Schema{
					"text":      {Type: inference.TypeString},
					"citations": {Type: inference.TypeArray, Items: &inference.Schema{Type: inference.TypeString}},
				},
				Required: []string{"text", "citations"},
			},
		},
		"confidence": {Type: inference.TypeNumber},
		"summary":    {Type: inference.TypeString},
	},
	Required: []string{"arguments", "confidence", "summary"},
}

// Verification argues one side of the claim from the selected evidence.
type Verification struct {
	name   pipeline.StageName
	stance string
	gen    inference.Generator
}

func NewVerification(name pipeline.StageName, gen inference.Generator) *Verification {
	stance := StanceSupport
	if name == pipeline.StageSkepticVerification {
		stance = StanceSkeptic
	}
	return &Verification{name: name, stance: stance, gen: gen}
}

func (v *Verification) Name() pipeline.StageName { return v.name }

func (v *Verification) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	var pack pipeline.Pack
	if err := inference.Decode(ctx, v.gen, verificationPrompt(v.stance, s.Claim, s.Selection.Items), packSchema, &pack); err != nil {
		return pipeline.State{}, err
	}
	pack.Stance = v.stance
	pack.Confidence = clamp01(pack.Confidence)

	known := evidenceIDs(s.Selection.Items)
	for i := range pack.Arguments {
		pack.Arguments[i].Citations = filterCitations(pack.Arguments[i].Citations, known)
	}

	if v.name == pipeline.StageSkepticVerification {
		return pipeline.State{Skeptic: &pack}, nil
	}
	return pipeline.State{Support: &pack}, nil
}

func evidenceIDs(items []pipeline.ScoredEvidence) map[string]pipeline.ScoredEvidence {
	m := make(map[string]pipeline.ScoredEvidence, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

func filterCitations(ids []string, known map[string]pipeline.ScoredEvidence) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
