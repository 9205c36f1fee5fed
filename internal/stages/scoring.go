package stages

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

const (
	MethodCrossEncoder = "cross_encoder"
	MethodHeuristic    = "heuristic"
)

// Heuristic score weights.
const (
	overlapWeight   = 0.5
	retrievalWeight = 0.3
	priorWeight     = 0.2
)

var sourcePriors = map[string]float64{
	pipeline.SourceKnowledgeBase: 0.6,
	pipeline.SourceWeb:           0.5,
}

type Scoring struct {
	scorer Scorer
}

func (sc *Scoring) Name() pipeline.StageName { return pipeline.StageScoring }

func (sc *Scoring) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	evidence := s.Collection.Evidence
	if len(evidence) == 0 {
		return pipeline.State{Scored: &pipeline.Scored{Items: []pipeline.ScoredEvidence{}, Method: MethodHeuristic}}, nil
	}

	if sc.scorer != nil && sc.scorer.Enabled() {
		items, err := sc.crossEncode(ctx, s.Claim.Text, evidence)
		if err == nil {
			return pipeline.State{Scored: &pipeline.Scored{Items: items, Method: MethodCrossEncoder}}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.State{}, ctxErr
		}
		slog.WarnContext(ctx, "cross-encoder scoring failed, using heuristic", "error", err)
	}

	return pipeline.State{Scored: &pipeline.Scored{Items: HeuristicScores(s.Claim.Text, evidence), Method: MethodHeuristic}}, nil
}

func (sc *Scoring) crossEncode(ctx context.Context, claim string, evidence []pipeline.Evidence) ([]pipeline.ScoredEvidence, error) {
	docs := make([]string, len(evidence))
	for i, e := range evidence {
		docs[i] = evidenceText(e)
	}
	results, err := sc.scorer.Score(ctx, claim, docs)
	if err != nil {
		return nil, err
	}
	items := make([]pipeline.ScoredEvidence, len(evidence))
	for i, e := range evidence {
		items[i] = pipeline.ScoredEvidence{Evidence: e}
	}
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(items) {
			items[r.Index].Score = r.Score
		}
	}
	sortScored(items)
	return items, nil
}

// HeuristicScores scores evidence by keyword overlap with the claim, the
// retrieval score normalized within each source and a per-source prior.
func HeuristicScores(claim string, evidence []pipeline.Evidence) []pipeline.ScoredEvidence {
	kws := text.Keywords(claim)
	best := map[string]float64{}
	for _, e := range evidence {
		best[e.Source] = max(best[e.Source], e.RetrievalScore)
	}
	items := make([]pipeline.ScoredEvidence, len(evidence))
	for i, e := range evidence {
		norm := 0.0
		if b := best[e.Source]; b > 0 {
			norm = e.RetrievalScore / b
		}
		items[i] = pipeline.ScoredEvidence{Evidence: e, Score: ScoreEvidence(kws, e, norm)}
	}
	sortScored(items)
	return items
}

// ScoreEvidence combines keyword overlap, a normalized retrieval score in
// [0,1] and the source prior.
func ScoreEvidence(keywords []string, e pipeline.Evidence, retrievalNorm float64) float64 {
	overlap := 0.0
	if len(keywords) > 0 {
		overlap = float64(text.MatchedKeywords(evidenceText(e), keywords)) / float64(len(keywords))
	}
	return overlapWeight*overlap + retrievalWeight*retrievalNorm + priorWeight*sourcePriors[e.Source]
}

func evidenceText(e pipeline.Evidence) string {
	body := e.Content
	if body == "" {
		body = e.Snippet
	}
	return e.Title + "\n" + body
}

func sortScored(items []pipeline.ScoredEvidence) {
	slices.SortStableFunc(items, func(a, b pipeline.ScoredEvidence) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
