package stages

import (
	"fmt"
	"strings"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

const evidenceSnippetRunes = 400

func claimHeader(b *strings.Builder, c *pipeline.Claim) {
	fmt.Fprintf(b, "Claim: %s\n", c.Text)
	fmt.Fprintf(b, "Language: %s\n", c.Language)
	if c.AsOf != nil {
		fmt.Fprintf(b, "As of: %s\n", c.AsOf.Format("2006-01-02"))
	}
	if c.SourceURL != "" {
		fmt.Fprintf(b, "Source: %s (%s)\n", c.SourceTitle, c.SourceURL)
	}
}

func evidenceBlock(b *strings.Builder, items []pipeline.ScoredEvidence) {
	if len(items) == 0 {
		b.WriteString("\nEvidence: none was found.\n")
		return
	}
	b.WriteString("\nEvidence:\n")
	for _, it := range items {
		body := it.Snippet
		if body == "" {
			body = it.Content
		}
		fmt.Fprintf(b, "[%s] %s\n%s\n", it.ID, it.Title, truncateRunes(body, evidenceSnippetRunes))
		if it.URL != "" {
			fmt.Fprintf(b, "url: %s\n", it.URL)
		}
	}
}

func queryPrompt(c *pipeline.Claim, n int) string {
	var b strings.Builder
	b.WriteString("Role: query_generation\n")
	fmt.Fprintf(&b, "Write up to %d short search queries that would find evidence for or against the claim. ", n)
	b.WriteString("Use the claim's language. Return JSON {\"queries\": [...]}.\n\n")
	claimHeader(&b, c)
	return b.String()
}

var stanceInstructions = map[string]string{
	StanceSupport: "Argue that the claim is true. Use only the evidence below and cite evidence ids for every argument.",
	StanceSkeptic: "Argue that the claim is false or misleading. Use only the evidence below and cite evidence ids for every argument.",
}

func verificationPrompt(stance string, c *pipeline.Claim, items []pipeline.ScoredEvidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", stance)
	b.WriteString(stanceInstructions[stance])
	b.WriteString(" Report your confidence in [0,1]. If the evidence does not bear on the claim, say so and use a low confidence.\n\n")
	claimHeader(&b, c)
	evidenceBlock(&b, items)
	return b.String()
}

func judgmentPrompt(c *pipeline.Claim, agg *pipeline.Aggregate) string {
	var b strings.Builder
	b.WriteString("Role: judgment\n")
	fmt.Fprintf(&b, "Weigh the arguments and give a verdict label from %s. ", strings.Join(pipeline.Labels, ", "))
	b.WriteString("Give a confidence in [0,1], a one paragraph summary, a short rationale list and the evidence ids you relied on.\n\n")
	claimHeader(&b, c)
	for _, p := range []*pipeline.Pack{agg.SupportPack, agg.SkepticPack} {
		if p == nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s arguments (confidence %.2f):\n", p.Stance, p.Confidence)
		for _, a := range p.Arguments {
			fmt.Fprintf(&b, "- %s [%s]\n", a.Text, strings.Join(a.Citations, ", "))
		}
	}
	if agg.SingleBranch {
		fmt.Fprintf(&b, "\nNote: the %s side is unavailable; judge from one side only.\n", agg.FailedBranch)
	}
	evidenceBlock(&b, agg.Evidence)
	return b.String()
}
