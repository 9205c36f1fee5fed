package stages

import (
	"context"
	"errors"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

var ErrNoBranches = errors.New("no verification branch produced output")

// Aggregation combines the verification packs. With one pack missing it
// marks the result single-branch instead of failing.
type Aggregation struct{}

func (Aggregation) Name() pipeline.StageName { return pipeline.StageAggregation }

func (Aggregation) Run(_ context.Context, s pipeline.State) (pipeline.State, error) {
	agg := &pipeline.Aggregate{SupportPack: s.Support, SkepticPack: s.Skeptic, Evidence: s.Selection.Items}
	switch {
	case s.Support == nil && s.Skeptic == nil:
		return pipeline.State{}, ErrNoBranches
	case s.Support == nil:
		agg.SingleBranch = true
		agg.FailedBranch = pipeline.StageSupportVerification
	case s.Skeptic == nil:
		agg.SingleBranch = true
		agg.FailedBranch = pipeline.StageSkepticVerification
	}
	return pipeline.State{Aggregate: agg}, nil
}
