package extraction

import (
	"fmt"
	"strings"

	"github.com/poiesic/folio/core"
)

const systemPrompt = `You are a document analysis expert. Extract structured content from the attached document excerpt with maximum information retention.

1. PARAGRAPHS
- Merge related small paragraphs into coherent larger ones when they discuss the same topic.
- Preserve semantic meaning and context while reducing fragmentation.
- Give the page number of each paragraph as a single integer, or an array of integers for content spanning pages.

2. TABLES
- Use snake_case names for tables and columns: letters, digits and underscores only.
- Fill every cell unless it is intentionally empty. Replicate headers that span several columns and propagate row category values to every cell of the row.
- Every column of a table must have the same number of values.
- Explain each table in one or two lines: its purpose and how it relates to the rest of the document.

3. RELATIONS
The relations build a knowledge graph that grows with every excerpt of the document.
- Review the existing knowledge context to learn the entities already known.
- When an entity in this excerpt is already known, use the existing name exactly.
- Do not repeat relations that are already present in the context.
- Extract the distinct, important named entities (people, organizations, products, concepts) and normalize each to its most complete name.
- Extract every meaningful relationship as a subject, predicate, object triplet.

Answer with a single JSON object and nothing else, using exactly this schema:
{
  "paragraphs": [
    {"page_no": <int|int[]>, "text": "<merged coherent text>"}
  ],
  "tables": [
    {
      "page_no": <int|int[]>,
      "table_name": "<descriptive_snake_case_name>",
      "table_content": [
        {"column_name": "<snake_case_name>", "column_value": ["<value 1>", "<value 2>"]}
      ],
      "table_explanation": "<purpose and insights>"
    }
  ],
  "relations": [
    {"subject": "<entity name>", "predicate": "<relation>", "object": "<entity name>", "page_no": <int|int[]>}
  ]
}
Use empty arrays when a section has no content.`

// BuildPrompt returns the user turn for a chunk. Page numbers are presented
// 1-based and absolute within the document.
func BuildPrompt(chunk core.Chunk, graphContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The attached file holds pages %d to %d of the document.\n\n",
		chunk.Pages.Start+1, chunk.Pages.End)

	b.WriteString("EXISTING KNOWLEDGE CONTEXT:\n")
	if strings.TrimSpace(graphContext) == "" {
		b.WriteString("(none yet)\n")
	} else {
		b.WriteString(graphContext)
		if !strings.HasSuffix(graphContext, "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAnalyze the excerpt thoroughly and return the complete JSON structure.")
	return b.String()
}
