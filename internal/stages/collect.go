package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/websearch"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/metrics"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
)

var conditionKinds = map[retrieval.Condition]pipeline.Kind{
	retrieval.ConditionLexicalMiss:         pipeline.KindRetrievalMiss,
	retrieval.ConditionVectorUnavailable:   pipeline.KindPartialCoverage,
	retrieval.ConditionEmbeddingCapReached: pipeline.KindEmbeddingCapReached,
}

// EvidenceCollection queries the background corpus with the claim and the
// web with every query variant, concurrently.
type EvidenceCollection struct {
	retriever Retriever
	web       WebSearcher
	backfill  BackfillPublisher
	perQuery  int
	retry     inference.RetryPolicy
}

func (c *EvidenceCollection) Name() pipeline.StageName { return pipeline.StageEvidenceCollection }

func (c *EvidenceCollection) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	var (
		kb      *retrieval.Result
		queries = s.Queries.Variants
		web     = make([][]websearch.Result, len(queries))
		webErrs = make([]error, len(queries))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := c.retriever.Retrieve(gctx, s.Claim.Text, c.retrievalOptions(s.Request.Options))
		if err != nil {
			return fmt.Errorf("background retrieval: %w", err)
		}
		kb = res
		return nil
	})
	if c.web != nil {
		for i, q := range queries {
			g.Go(func() error {
				webErrs[i] = inference.Retry(gctx, c.retry, "web_search", func() error {
					res, err := c.web.Search(gctx, q, c.perQuery, s.Claim.Language)
					web[i] = res
					return err
				})
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return pipeline.State{}, err
	}

	col := &pipeline.Collection{Context: kb.Context}
	var notices []pipeline.Notice

	for i, h := range kb.Hits {
		col.Evidence = append(col.Evidence, pipeline.Evidence{
			ID:             fmt.Sprintf("kb:%d", h.ChunkID),
			Source:         pipeline.SourceKnowledgeBase,
			Title:          h.Title,
			Snippet:        h.Snippet,
			Content:        h.Content,
			PageID:         h.PageID,
			ChunkID:        h.ChunkID,
			RetrievalScore: h.FusedScore,
			Rank:           i + 1,
		})
	}

	conds := kb.Debug.Conditions()
	summary := &pipeline.RetrievalSummary{
		Candidates:        len(kb.Candidates),
		Hits:              len(kb.Hits),
		CandidateTier:     string(kb.Debug.CandidateTier),
		UpdatedEmbeddings: kb.UpdatedEmbeddings,
	}
	for _, cond := range conds {
		summary.Conditions = append(summary.Conditions, string(cond))
		metrics.RetrievalDegraded(string(cond))
		notices = append(notices, pipeline.Notice{Kind: conditionKinds[cond], Message: string(cond)})
	}
	col.Retrieval = summary
	metrics.EmbeddingsBackfilled(kb.UpdatedEmbeddings)

	if kb.Debug.EmbeddingCapReached && c.backfill != nil {
		ids := make([]int64, len(kb.Candidates))
		for i, p := range kb.Candidates {
			ids[i] = p.PageID
		}
		if err := c.backfill.PublishBackfill(ctx, ids, s.Claim.TraceID); err != nil {
			slog.WarnContext(ctx, "failed to schedule background backfill", "error", err, "pages", len(ids))
		}
	}

	seen := make(map[string]struct{})
	n := 0
	for i, results := range web {
		if err := webErrs[i]; err != nil {
			msg := fmt.Sprintf("web search %q: %v", queries[i], err)
			col.WebErrors = append(col.WebErrors, msg)
			notices = append(notices, pipeline.Notice{Kind: pipeline.KindPartialCoverage, Message: msg})
			continue
		}
		for _, r := range results {
			key := strings.TrimSuffix(r.URL, "/")
			if _, dup := seen[key]; dup || key == "" {
				continue
			}
			seen[key] = struct{}{}
			n++
			col.Evidence = append(col.Evidence, pipeline.Evidence{
				ID:             fmt.Sprintf("web:%d", n),
				Source:         pipeline.SourceWeb,
				Title:          r.Title,
				URL:            r.URL,
				Snippet:        r.Snippet,
				RetrievalScore: 1 / float64(max(r.Rank, 1)),
				Rank:           r.Rank,
			})
		}
	}

	slog.InfoContext(ctx, "evidence collected",
		"kb_hits", len(kb.Hits), "web_results", n, "web_errors", len(col.WebErrors), "conditions", summary.Conditions)
	return pipeline.State{Collection: col, Notices: notices}, nil
}

func (c *EvidenceCollection) retrievalOptions(o pipeline.Options) retrieval.Options {
	opts := c.retriever.Options()
	if o.TopK > 0 {
		opts.TopK = o.TopK
	}
	if o.Window > 0 {
		opts.Window = o.Window
	}
	if o.PageLimit > 0 {
		opts.PageLimit = o.PageLimit
	}
	switch {
	case o.EmbedMissingCap > 0:
		opts.EmbedCap = o.EmbedMissingCap
	case o.EmbedMissingCap < 0:
		opts.EmbedMissing = false
	}
	return opts
}
