package retrieval

import (
	"math"
)

const (
	titleSimilarityWeight = 20.0
	titleSubstringScore   = 1.0
	allKeywordsBonus      = 100.0
	keywordMatchWeight    = 10.0
	keywordSimilarity     = 5.0
	exactTitleBonus       = 1000.0

	// DefaultOccurrenceCap bounds how much a repetitive chunk can gain.
	DefaultOccurrenceCap = 8
)

// TitleSimilarityScore scores a title-similarity tier page.
func TitleSimilarityScore(similarity float64) float64 {
	return similarity * titleSimilarityWeight
}

// TitleSubstringScore scores a raw-substring tier page. It is below every
// non-zero score the other tiers can produce for a matching page.
func TitleSubstringScore() float64 {
	return titleSubstringScore
}

// KeywordTierScore scores a keyword-any tier page.
func KeywordTierScore(matched, total int, similarity float64, exactTitle bool) float64 {
	score := float64(matched)*keywordMatchWeight + similarity*keywordSimilarity
	if total > 0 && matched == total {
		score += allKeywordsBonus
	}
	if exactTitle {
		score += exactTitleBonus
	}
	return score
}

// ChunkLexicalScore is occurrences / log(1+length), with occurrences capped.
func ChunkLexicalScore(occurrences, length, occurrenceCap int) float64 {
	if occurrences <= 0 || length <= 0 {
		return 0
	}
	if occurrenceCap > 0 && occurrences > occurrenceCap {
		occurrences = occurrenceCap
	}
	return float64(occurrences) / math.Log(1+float64(length))
}

// VectorScore maps a distance onto (0, 1].
func VectorScore(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// FusionWeights weights the four signals when reinforcing a vector set.
type FusionWeights struct {
	Vec   float64 `json:"w_vec"`
	FTS   float64 `json:"w_fts"`
	Title float64 `json:"w_title"`
	Lex   float64 `json:"w_lex"`
}

func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Vec: 0.6, FTS: 0.2, Title: 0.1, Lex: 0.1}
}

// Fuse combines the component scores linearly.
func (w FusionWeights) Fuse(vec, fts, title, lex float64) float64 {
	return w.Vec*vec + w.FTS*fts + w.Title*title + w.Lex*lex
}

// normalizeMax scales values so the largest becomes 1.
func normalizeMax(values map[int64]float64) map[int64]float64 {
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	out := make(map[int64]float64, len(values))
	for k, v := range values {
		if max > 0 {
			out[k] = v / max
		}
	}
	return out
}
