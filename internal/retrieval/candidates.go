package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

const (
	DefaultTitleFloor = 0.3
	minKeywordScan    = 50
	keywordScanFactor = 5
)

// CandidateSet is the ranked output of the lexical tiers.
type CandidateSet struct {
	Pages []CandidatePage
	// Tier is the signal of the tier that produced Pages, empty on a miss.
	Tier        SourceSignal
	LexicalMiss bool
}

type CandidateGenerator struct {
	store EvidenceStore
	floor float64
}

func NewCandidateGenerator(store EvidenceStore, titleFloor float64) *CandidateGenerator {
	if titleFloor <= 0 {
		titleFloor = DefaultTitleFloor
	}
	return &CandidateGenerator{store: store, floor: titleFloor}
}

// FindCandidates runs the title-similarity, title-substring and keyword-any
// tiers in order and returns the first that yields pages.
func (g *CandidateGenerator) FindCandidates(ctx context.Context, query string, pageLimit int) (CandidateSet, error) {
	q := strings.TrimSpace(query)
	if q == "" || pageLimit <= 0 {
		return CandidateSet{LexicalMiss: true}, nil
	}

	matches, err := g.store.FindPagesBySimilarTitle(ctx, q, g.floor, pageLimit)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("title similarity tier: %w", err)
	}
	if len(matches) > 0 {
		return g.rank(SignalTitleSimilarity, matches, pageLimit, func(m PageMatch) float64 {
			return TitleSimilarityScore(m.Similarity)
		}), nil
	}

	matches, err = g.store.FindPagesByTitleSubstring(ctx, q, pageLimit)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("title substring tier: %w", err)
	}
	if len(matches) > 0 {
		return g.rank(SignalTitleSubstring, matches, pageLimit, func(PageMatch) float64 {
			return TitleSubstringScore()
		}), nil
	}

	keywords := text.Keywords(q)
	if len(keywords) == 0 {
		slog.DebugContext(ctx, "no keywords extracted", "query", q)
		return CandidateSet{LexicalMiss: true}, nil
	}
	scan := pageLimit * keywordScanFactor
	if scan < minKeywordScan {
		scan = minKeywordScan
	}
	matches, err = g.store.FindPagesByAnyKeyword(ctx, q, keywords, scan)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("keyword tier: %w", err)
	}
	if len(matches) == 0 {
		return CandidateSet{LexicalMiss: true}, nil
	}
	normalized := text.Normalize(q)
	return g.rank(SignalKeywordAny, matches, pageLimit, func(m PageMatch) float64 {
		matched := text.MatchedKeywords(m.Title, keywords)
		return KeywordTierScore(matched, len(keywords), m.Similarity, text.Normalize(m.Title) == normalized)
	}), nil
}

func (g *CandidateGenerator) rank(tier SourceSignal, matches []PageMatch, limit int, score func(PageMatch) float64) CandidateSet {
	seen := make(map[int64]int, len(matches))
	pages := make([]CandidatePage, 0, len(matches))
	for _, m := range matches {
		s := score(m)
		if i, ok := seen[m.PageID]; ok {
			if s > pages[i].LexicalScore {
				pages[i].LexicalScore = s
			}
			continue
		}
		seen[m.PageID] = len(pages)
		pages = append(pages, CandidatePage{PageID: m.PageID, Title: m.Title, LexicalScore: s, Source: tier})
	}
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].LexicalScore != pages[j].LexicalScore {
			return pages[i].LexicalScore > pages[j].LexicalScore
		}
		return pages[i].PageID < pages[j].PageID
	})
	if len(pages) > limit {
		pages = pages[:limit]
	}
	return CandidateSet{Pages: pages, Tier: tier}
}
