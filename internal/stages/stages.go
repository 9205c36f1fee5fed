// Package stages implements the verification pipeline stages on top of the
// retrieval, inference and web collaborators.
package stages

import (
	"context"
	"errors"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/reranker"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/webpage"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/websearch"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
)

var (
	ErrNoRetriever = errors.New("stages: retriever is required")
	ErrNoGenerator = errors.New("stages: generator is required")
	ErrNoFetcher   = errors.New("url claims are not supported: no page fetcher configured")
	ErrEmptyClaim  = errors.New("claim is empty after normalization")
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) (*retrieval.Result, error)
	Options() retrieval.Options
}

type WebSearcher interface {
	Search(ctx context.Context, query string, n int, lang string) ([]websearch.Result, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*webpage.Page, error)
}

// Scorer is a cross-encoder relevance model.
type Scorer interface {
	Enabled() bool
	Score(ctx context.Context, query string, docs []string) ([]reranker.Result, error)
}

// BackfillPublisher hands pages whose backfill hit the per-call cap to a
// background worker.
type BackfillPublisher interface {
	PublishBackfill(ctx context.Context, pageIDs []int64, traceID string) error
}

// Policy is the final formatting and content collaborator.
type Policy interface {
	Apply(ctx context.Context, v pipeline.Verdict, evidence []pipeline.ScoredEvidence) (pipeline.Verdict, error)
}

type Config struct {
	MaxQueries          int
	WebResultsPerQuery  int
	SelectK             int
	PerSourceCap        int
	MaxClaimRunes       int
	SingleBranchFactor  float64
	EmptyEvidenceFactor float64
	Retry               inference.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		MaxQueries:          4,
		WebResultsPerQuery:  3,
		SelectK:             6,
		PerSourceCap:        4,
		MaxClaimRunes:       500,
		SingleBranchFactor:  0.7,
		EmptyEvidenceFactor: 0.8,
		Retry:               inference.DefaultRetryPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueries <= 0 {
		c.MaxQueries = d.MaxQueries
	}
	if c.WebResultsPerQuery <= 0 {
		c.WebResultsPerQuery = d.WebResultsPerQuery
	}
	if c.SelectK <= 0 {
		c.SelectK = d.SelectK
	}
	if c.PerSourceCap <= 0 {
		c.PerSourceCap = d.PerSourceCap
	}
	if c.MaxClaimRunes <= 0 {
		c.MaxClaimRunes = d.MaxClaimRunes
	}
	if c.SingleBranchFactor <= 0 {
		c.SingleBranchFactor = d.SingleBranchFactor
	}
	if c.EmptyEvidenceFactor <= 0 {
		c.EmptyEvidenceFactor = d.EmptyEvidenceFactor
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = d.Retry
	}
	return c
}

// Deps are the collaborators of the stages. Web, Fetcher, Scorer, Backfill
// and Policy are optional.
type Deps struct {
	Retriever Retriever
	Web       WebSearcher
	Fetcher   PageFetcher
	Generator inference.Generator
	Scorer    Scorer
	Backfill  BackfillPublisher
	Policy    Policy
	Config    Config
}

// NewRegistry builds a registry holding every stage of the pipeline.
func NewRegistry(d Deps) (*pipeline.Registry, error) {
	if d.Retriever == nil {
		return nil, ErrNoRetriever
	}
	if d.Generator == nil {
		return nil, ErrNoGenerator
	}
	cfg := d.Config.withDefaults()
	policy := d.Policy
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return pipeline.NewRegistry(
		&Normalize{fetcher: d.Fetcher, maxRunes: cfg.MaxClaimRunes},
		&QueryGeneration{gen: d.Generator, max: cfg.MaxQueries},
		&EvidenceCollection{retriever: d.Retriever, web: d.Web, backfill: d.Backfill, perQuery: cfg.WebResultsPerQuery, retry: cfg.Retry},
		&Scoring{scorer: d.Scorer},
		&TopKSelection{k: cfg.SelectK, perSource: cfg.PerSourceCap},
		NewVerification(pipeline.StageSupportVerification, d.Generator),
		NewVerification(pipeline.StageSkepticVerification, d.Generator),
		Aggregation{},
		&Judgment{gen: d.Generator, singleBranch: cfg.SingleBranchFactor, emptyEvidence: cfg.EmptyEvidenceFactor},
		&PolicyStage{policy: policy},
	)
}
