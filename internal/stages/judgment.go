package stages

import (
	"context"
	"slices"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

var verdictSchema = &inference.Schema{
	Type: inference.TypeObject,
	Properties: map[string]*inference.Schema{
		"label":      {Type: inference.TypeString, Enum: pipeline.Labels},
		"confidence": {Type: inference.TypeNumber},
		"summary":    {Type: inference.TypeString},
		"rationale":  {Type: inference.TypeArray, Items: &inference.Schema{Type: inference.TypeString}},
		"citations":  {Type: inference.TypeArray, Items: &inference.Schema{Type: inference.TypeString}},
	},
	Required: []string{"label", "confidence", "summary", "rationale", "citations"},
}

type Judgment struct {
	gen           inference.Generator
	singleBranch  float64
	emptyEvidence float64
}

func (j *Judgment) Name() pipeline.StageName { return pipeline.StageJudgment }

func (j *Judgment) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	agg := s.Aggregate
	var out struct {
		Label      string   `json:"label"`
		Confidence float64  `json:"confidence"`
		Summary    string   `json:"summary"`
		Rationale  []string `json:"rationale"`
		Citations  []string `json:"citations"`
	}
	if err := inference.Decode(ctx, j.gen, judgmentPrompt(s.Claim, agg), verdictSchema, &out); err != nil {
		return pipeline.State{}, err
	}

	v := &pipeline.Verdict{
		Label:      out.Label,
		Confidence: clamp01(out.Confidence),
		Summary:    out.Summary,
		Rationale:  out.Rationale,
	}
	if !slices.Contains(pipeline.Labels, v.Label) {
		v.Label = pipeline.LabelUnverified
	}
	known := evidenceIDs(agg.Evidence)
	for _, id := range filterCitations(out.Citations, known) {
		e := known[id]
		v.Citations = append(v.Citations, pipeline.Citation{EvidenceID: id, Title: e.Title, URL: e.URL})
	}

	if agg.SingleBranch {
		v.Confidence *= j.singleBranch
	}
	empty := len(agg.Evidence) == 0
	if empty {
		v.Label = pipeline.LabelUnverified
	}
	// a corpus miss lowers confidence even when web evidence was found
	if empty || hasNotice(s.Notices, pipeline.KindRetrievalMiss) {
		v.Confidence *= j.emptyEvidence
	}
	return pipeline.State{Verdict: v}, nil
}

func hasNotice(notices []pipeline.Notice, kind pipeline.Kind) bool {
	return slices.ContainsFunc(notices, func(n pipeline.Notice) bool { return n.Kind == kind })
}
