package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type StageName string

const (
	StageNormalize           StageName = "normalize"
	StageQueryGeneration     StageName = "query_generation"
	StageEvidenceCollection  StageName = "evidence_collection"
	StageScoring             StageName = "scoring"
	StageTopKSelection       StageName = "topk_selection"
	StageSupportVerification StageName = "support_verification"
	StageSkepticVerification StageName = "skeptic_verification"
	StageAggregation         StageName = "aggregation"
	StageJudgment            StageName = "judgment"
	StagePolicy              StageName = "policy"
)

// Order is the fixed stage order. The two verification stages share a
// position and run concurrently.
var Order = []StageName{
	StageNormalize,
	StageQueryGeneration,
	StageEvidenceCollection,
	StageScoring,
	StageTopKSelection,
	StageSupportVerification,
	StageSkepticVerification,
	StageAggregation,
	StageJudgment,
	StagePolicy,
}

// Branches are the verification stages run against the same snapshot.
var Branches = []StageName{StageSupportVerification, StageSkepticVerification}

func position(name StageName) int {
	if name == StageSkepticVerification {
		name = StageSupportVerification
	}
	return slices.Index(Order, name)
}

// State is the append-only record of a run. Each pointer field is owned by
// exactly one stage and is written once.
type State struct {
	Request Request `json:"request"`

	Claim      *Claim      `json:"claim,omitempty"`
	Queries    *Queries    `json:"queries,omitempty"`
	Collection *Collection `json:"collection,omitempty"`
	Scored     *Scored     `json:"scored,omitempty"`
	Selection  *Selection  `json:"selection,omitempty"`
	Support    *Pack       `json:"support,omitempty"`
	Skeptic    *Pack       `json:"skeptic,omitempty"`
	Aggregate  *Aggregate  `json:"aggregate,omitempty"`
	Verdict    *Verdict    `json:"verdict,omitempty"`
	Final      *Verdict    `json:"final,omitempty"`

	Notices []Notice `json:"notices,omitempty"`
}

func assign[T any](dst **T, src *T, stage, owner StageName, field string) error {
	if src == nil {
		return nil
	}
	if stage != owner {
		return fmt.Errorf("%w: %s wrote %s", ErrForeignWrite, stage, field)
	}
	if *dst != nil {
		return fmt.Errorf("%w: %s", ErrOverwrite, field)
	}
	*dst = src
	return nil
}

// Merge returns s extended with the fields stage produced in delta. Writing a
// field owned by another stage, or one already set, is an error.
func (s State) Merge(stage StageName, delta State) (State, error) {
	err := errors.Join(
		assign(&s.Claim, delta.Claim, stage, StageNormalize, "claim"),
		assign(&s.Queries, delta.Queries, stage, StageQueryGeneration, "queries"),
		assign(&s.Collection, delta.Collection, stage, StageEvidenceCollection, "collection"),
		assign(&s.Scored, delta.Scored, stage, StageScoring, "scored"),
		assign(&s.Selection, delta.Selection, stage, StageTopKSelection, "selection"),
		assign(&s.Support, delta.Support, stage, StageSupportVerification, "support"),
		assign(&s.Skeptic, delta.Skeptic, stage, StageSkepticVerification, "skeptic"),
		assign(&s.Aggregate, delta.Aggregate, stage, StageAggregation, "aggregate"),
		assign(&s.Verdict, delta.Verdict, stage, StageJudgment, "verdict"),
		assign(&s.Final, delta.Final, stage, StagePolicy, "final"),
	)
	if err != nil {
		return s, err
	}
	if len(delta.Notices) > 0 {
		notices := slices.Clip(s.Notices)
		for _, n := range delta.Notices {
			if n.Stage == "" {
				n.Stage = stage
			}
			notices = append(notices, n)
		}
		s.Notices = notices
	}
	return s, nil
}

// Before returns the view of s a stage is allowed to read: only outputs of
// stages that precede it. A verification branch never sees its sibling.
func (s State) Before(stage StageName) State {
	p := position(stage)
	if p < 0 {
		return State{Request: s.Request}
	}
	v := State{Request: s.Request, Notices: slices.Clip(s.Notices)}
	if p > position(StageNormalize) {
		v.Claim = s.Claim
	}
	if p > position(StageQueryGeneration) {
		v.Queries = s.Queries
	}
	if p > position(StageEvidenceCollection) {
		v.Collection = s.Collection
	}
	if p > position(StageScoring) {
		v.Scored = s.Scored
	}
	if p > position(StageTopKSelection) {
		v.Selection = s.Selection
	}
	if p > position(StageSupportVerification) {
		v.Support = s.Support
		v.Skeptic = s.Skeptic
	}
	if p > position(StageAggregation) {
		v.Aggregate = s.Aggregate
	}
	if p > position(StageJudgment) {
		v.Verdict = s.Verdict
	}
	return v
}

// Output returns the field owned by stage, or nil.
func (s State) Output(stage StageName) any {
	switch stage {
	case StageNormalize:
		return nilIfEmpty(s.Claim)
	case StageQueryGeneration:
		return nilIfEmpty(s.Queries)
	case StageEvidenceCollection:
		return nilIfEmpty(s.Collection)
	case StageScoring:
		return nilIfEmpty(s.Scored)
	case StageTopKSelection:
		return nilIfEmpty(s.Selection)
	case StageSupportVerification:
		return nilIfEmpty(s.Support)
	case StageSkepticVerification:
		return nilIfEmpty(s.Skeptic)
	case StageAggregation:
		return nilIfEmpty(s.Aggregate)
	case StageJudgment:
		return nilIfEmpty(s.Verdict)
	case StagePolicy:
		return nilIfEmpty(s.Final)
	}
	return nil
}

func nilIfEmpty[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

// Options are the per-request knobs of the entry contract. Zero values fall
// back to the configured defaults; a negative EmbedMissingCap disables backfill.
type Options struct {
	TopK               int  `json:"top_k,omitempty"`
	Window             int  `json:"window,omitempty"`
	PageLimit          int  `json:"page_limit,omitempty"`
	EmbedMissingCap    int  `json:"embed_missing_cap,omitempty"`
	IncludeFullOutputs bool `json:"include_full_outputs,omitempty"`
}

const (
	MaxTopK      = 50
	MaxWindow    = 5
	MaxPageLimit = 100
)

type Request struct {
	ClaimText string     `json:"claim,omitempty"`
	URL       string     `json:"url,omitempty"`
	AsOf      *time.Time `json:"as_of,omitempty"`
	TraceID   string     `json:"trace_id,omitempty"`
	Options   Options    `json:"options"`
}

func (r Request) Validate() error {
	claim, url := strings.TrimSpace(r.ClaimText), strings.TrimSpace(r.URL)
	switch {
	case claim == "" && url == "":
		return fmt.Errorf("%w: claim or url is required", ErrInvalidInput)
	case claim != "" && url != "":
		return fmt.Errorf("%w: claim and url are mutually exclusive", ErrInvalidInput)
	case url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://"):
		return fmt.Errorf("%w: url must be http or https", ErrInvalidInput)
	}
	o := r.Options
	if o.TopK < 0 || o.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 0 and %d", ErrInvalidInput, MaxTopK)
	}
	if o.Window < 0 || o.Window > MaxWindow {
		return fmt.Errorf("%w: window must be between 0 and %d", ErrInvalidInput, MaxWindow)
	}
	if o.PageLimit < 0 || o.PageLimit > MaxPageLimit {
		return fmt.Errorf("%w: page_limit must be between 0 and %d", ErrInvalidInput, MaxPageLimit)
	}
	return nil
}
