package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

type Normalize struct {
	fetcher  PageFetcher
	maxRunes int
}

func (n *Normalize) Name() pipeline.StageName { return pipeline.StageNormalize }

func (n *Normalize) Run(ctx context.Context, s pipeline.State) (pipeline.State, error) {
	req := s.Request
	claim := &pipeline.Claim{Original: req.ClaimText, AsOf: req.AsOf, TraceID: req.TraceID}

	if req.URL != "" {
		if n.fetcher == nil {
			return pipeline.State{}, &pipeline.StageError{Kind: pipeline.KindInvalidInput, Err: ErrNoFetcher}
		}
		page, err := n.fetcher.Fetch(ctx, strings.TrimSpace(req.URL))
		if err != nil {
			return pipeline.State{}, err
		}
		claim.SourceURL = page.URL
		claim.SourceTitle = page.Title
		claim.Original = strings.TrimSpace(page.Title + "\n" + page.Text)
		slog.InfoContext(ctx, "claim fetched from url", "url", page.URL, "title", page.Title)
	}

	claim.Text = truncateRunes(strings.Join(strings.Fields(claim.Original), " "), n.maxRunes)
	if claim.Text == "" {
		return pipeline.State{}, &pipeline.StageError{Kind: pipeline.KindInvalidInput, Err: ErrEmptyClaim}
	}
	claim.Language = text.DetectLanguage(claim.Text)
	return pipeline.State{Claim: claim}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
