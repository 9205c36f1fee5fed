package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

const DefaultSnippetChars = 240

type PackResult struct {
	Windows []ContextWindow
	// Snippets is keyed by hit chunk id.
	Snippets  map[int64]string
	Context   string
	Chars     int
	Truncated bool
}

type WindowPacker struct {
	store        EvidenceStore
	snippetChars int
}

func NewWindowPacker(store EvidenceStore, snippetChars int) *WindowPacker {
	if snippetChars <= 0 {
		snippetChars = DefaultSnippetChars
	}
	return &WindowPacker{store: store, snippetChars: snippetChars}
}

type idxRange struct{ lo, hi int }

// Pack expands hits into windows of radius chunks on each side. Ranges on the
// same page are merged, chunks are deduplicated across all windows and no
// chunk is cut to fit maxChars. maxChars <= 0 disables the budget.
func (p *WindowPacker) Pack(ctx context.Context, hits []Hit, radius, maxChars int, keywords []string) (PackResult, error) {
	res := PackResult{Snippets: make(map[int64]string, len(hits))}
	if radius < 0 {
		radius = 0
	}
	for _, h := range hits {
		res.Snippets[h.ChunkID] = text.Snippet(h.Content, keywords, p.snippetChars)
	}

	var order []int64
	ranges := make(map[int64][]idxRange)
	titles := make(map[int64]string)
	for _, h := range hits {
		if _, ok := ranges[h.PageID]; !ok {
			order = append(order, h.PageID)
			titles[h.PageID] = h.Title
		}
		lo := h.ChunkIndex - radius
		if lo < 0 {
			lo = 0
		}
		ranges[h.PageID] = append(ranges[h.PageID], idxRange{lo: lo, hi: h.ChunkIndex + radius})
	}

	seen := make(map[int64]struct{})
	var sb strings.Builder
pages:
	for _, pageID := range order {
		for _, rg := range mergeRanges(ranges[pageID]) {
			chunks, err := p.store.FindChunkWindow(ctx, pageID, rg.lo, rg.hi)
			if err != nil {
				return res, fmt.Errorf("chunk window page %d [%d,%d]: %w", pageID, rg.lo, rg.hi, err)
			}
			win := ContextWindow{PageID: pageID, Title: titles[pageID]}
			for _, c := range chunks {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				n := utf8.RuneCountInString(c.Content)
				if maxChars > 0 && res.Chars+n > maxChars {
					res.Truncated = true
					res.appendWindow(&sb, win)
					break pages
				}
				seen[c.ID] = struct{}{}
				win.Chunks = append(win.Chunks, c)
				win.Chars += n
				res.Chars += n
			}
			res.appendWindow(&sb, win)
		}
	}
	res.Context = sb.String()
	return res, nil
}

func (r *PackResult) appendWindow(sb *strings.Builder, w ContextWindow) {
	if len(w.Chunks) == 0 {
		return
	}
	r.Windows = append(r.Windows, w)
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString("[" + w.Title + "]\n")
	for i, c := range w.Chunks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Content)
	}
}

// mergeRanges joins overlapping or adjacent ranges.
func mergeRanges(in []idxRange) []idxRange {
	if len(in) == 0 {
		return nil
	}
	rs := append([]idxRange(nil), in...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].lo < rs[j].lo })
	out := []idxRange{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.lo <= last.hi+1 {
			if r.hi > last.hi {
				last.hi = r.hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
