package pipeline

import "time"

// Claim is the normalized claim under verification.
type Claim struct {
	Text        string     `json:"text"`
	Original    string     `json:"original"`
	Language    string     `json:"language"`
	AsOf        *time.Time `json:"as_of,omitempty"`
	TraceID     string     `json:"trace_id"`
	SourceURL   string     `json:"source_url,omitempty"`
	SourceTitle string     `json:"source_title,omitempty"`
}

type Queries struct {
	Variants []string `json:"variants"`
	Fallback bool     `json:"fallback"`
}

const (
	SourceKnowledgeBase = "kb"
	SourceWeb           = "web"
)

// Evidence is a single piece of retrieved material. ID is "kb:<chunk id>"
// for corpus evidence and "web:<n>" for web results.
type Evidence struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	Snippet        string  `json:"snippet"`
	Content        string  `json:"content,omitempty"`
	PageID         int64   `json:"page_id,omitempty"`
	ChunkID        int64   `json:"chunk_id,omitempty"`
	RetrievalScore float64 `json:"retrieval_score"`
	Rank           int     `json:"rank"`
}

type RetrievalSummary struct {
	Candidates        int      `json:"candidates"`
	Hits              int      `json:"hits"`
	CandidateTier     string   `json:"candidate_tier,omitempty"`
	UpdatedEmbeddings int      `json:"updated_embeddings"`
	Conditions        []string `json:"conditions,omitempty"`
}

type Collection struct {
	Evidence  []Evidence        `json:"evidence"`
	Context   string            `json:"context,omitempty"`
	Retrieval *RetrievalSummary `json:"retrieval,omitempty"`
	WebErrors []string          `json:"web_errors,omitempty"`
}

type ScoredEvidence struct {
	Evidence
	Score float64 `json:"score"`
}

type Scored struct {
	Items  []ScoredEvidence `json:"items"`
	Method string           `json:"method"`
}

type Selection struct {
	Items []ScoredEvidence `json:"items"`
}

type Argument struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// Pack is the output of one verification branch.
type Pack struct {
	Stance     string     `json:"stance"`
	Arguments  []Argument `json:"arguments"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary"`
}

type Aggregate struct {
	SupportPack  *Pack            `json:"support_pack,omitempty"`
	SkepticPack  *Pack            `json:"skeptic_pack,omitempty"`
	SingleBranch bool             `json:"single_branch"`
	FailedBranch StageName        `json:"failed_branch,omitempty"`
	Evidence     []ScoredEvidence `json:"evidence"`
}

const (
	LabelTrue        = "TRUE"
	LabelMostlyTrue  = "MOSTLY_TRUE"
	LabelMixed       = "MIXED"
	LabelMostlyFalse = "MOSTLY_FALSE"
	LabelFalse       = "FALSE"
	LabelUnverified  = "UNVERIFIED"
)

var Labels = []string{LabelTrue, LabelMostlyTrue, LabelMixed, LabelMostlyFalse, LabelFalse, LabelUnverified}

type Citation struct {
	EvidenceID string `json:"evidence_id"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
}

type Verdict struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary"`
	Rationale  []string   `json:"rationale"`
	Citations  []Citation `json:"citations"`
}

// Notice records a non-fatal condition raised during a run.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Stage   StageName `json:"stage"`
	Message string    `json:"message"`
}

// summarizer is implemented by outputs that have a compact event payload.
type summarizer interface {
	EventSummary() map[string]any
}

func (c *Claim) EventSummary() map[string]any {
	return map[string]any{"text": c.Text, "language": c.Language}
}

func (q *Queries) EventSummary() map[string]any {
	return map[string]any{"variants": len(q.Variants), "fallback": q.Fallback}
}

func (c *Collection) EventSummary() map[string]any {
	m := map[string]any{"evidence": len(c.Evidence), "web_errors": len(c.WebErrors)}
	if c.Retrieval != nil {
		m["conditions"] = c.Retrieval.Conditions
		m["updated_embeddings"] = c.Retrieval.UpdatedEmbeddings
	}
	return m
}

func (s *Scored) EventSummary() map[string]any {
	return map[string]any{"items": len(s.Items), "method": s.Method}
}

func (s *Selection) EventSummary() map[string]any {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.ID
	}
	return map[string]any{"items": ids}
}

func (p *Pack) EventSummary() map[string]any {
	return map[string]any{"stance": p.Stance, "arguments": len(p.Arguments), "confidence": p.Confidence}
}

func (a *Aggregate) EventSummary() map[string]any {
	return map[string]any{
		"single_branch": a.SingleBranch,
		"support":       a.SupportPack != nil,
		"skeptic":       a.SkepticPack != nil,
	}
}

func (v *Verdict) EventSummary() map[string]any {
	return map[string]any{"label": v.Label, "confidence": v.Confidence}
}
