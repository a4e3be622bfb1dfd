package graph

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// omissionReserve keeps room for the trailing "earlier relations omitted" line.
const omissionReserve = 48

// Summarize renders a bounded description of g for the next extraction
// prompt. Entities and relations are listed most recent first; when the
// output would exceed budget bytes, older entries are dropped. The result
// depends only on g and budget. A budget <= 0 means unbounded. An empty
// graph summarizes to "".
func Summarize(g *KnowledgeGraph, budget int) string {
	if g == nil || len(g.nodes) == 0 {
		return ""
	}

	limit := budget
	reserve := omissionReserve
	if limit <= 0 {
		limit = math.MaxInt
		reserve = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Known entities: %d. Known relations: %d.\n", len(g.nodes), len(g.edges))

	// Entities get at most half of what remains.
	entityLimit := b.Len() + (limit-b.Len())/2
	b.WriteString("Entities (most recent first):")
	for i := len(g.nodes) - 1; i >= 0; i-- {
		item := " " + g.nodes[i].Label + ";"
		if b.Len()+len(item) > entityLimit {
			fmt.Fprintf(&b, " (+%d more)", i+1)
			break
		}
		b.WriteString(item)
	}
	b.WriteString("\n")

	if len(g.edges) > 0 {
		b.WriteString("Relations (most recent first):\n")
		for i := len(g.edges) - 1; i >= 0; i-- {
			e := g.edges[i]
			line := fmt.Sprintf("- %s -[%s]-> %s\n", g.labelOf(e.Source), e.Label, g.labelOf(e.Target))
			if b.Len()+len(line) > limit-reserve {
				fmt.Fprintf(&b, "(%d earlier relations omitted)\n", i+1)
				break
			}
			b.WriteString(line)
		}
	}

	return truncate(b.String(), budget)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
