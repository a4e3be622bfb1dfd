package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/folio/core"
)

// Wire types for the model reply. Pointers to slices distinguish a missing
// section from an empty one.
type response struct {
	Paragraphs *[]paragraph `json:"paragraphs"`
	Tables     *[]table     `json:"tables"`
	Relations  *[]relation  `json:"relations"`
}

type paragraph struct {
	PageNo pageNumber `json:"page_no"`
	Text   string     `json:"text"`
}

type table struct {
	PageNo      pageNumber `json:"page_no"`
	Name        string     `json:"table_name"`
	Content     []column   `json:"table_content"`
	Explanation string     `json:"table_explanation"`
}

type column struct {
	Name   string `json:"column_name"`
	Values []any  `json:"column_value"`
}

type relation struct {
	Subject   string     `json:"subject"`
	Predicate string     `json:"predicate"`
	Object    string     `json:"object"`
	PageNo    pageNumber `json:"page_no"`
}

// pageNumber accepts a single page or a list of pages; the first one wins.
type pageNumber struct {
	page int
	set  bool
}

func (p *pageNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var pages []json.Number
		if err := json.Unmarshal(data, &pages); err != nil {
			return fmt.Errorf("page_no: %w", err)
		}
		if len(pages) == 0 {
			return nil
		}
		data = []byte(pages[0])
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("page_no: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("page_no %s is not an integer", n)
		}
		v = int64(f)
	}
	p.page, p.set = int(v), true
	return nil
}

// Parse decodes a raw model reply for chunk into an ExtractionResult.
// Any shape mismatch is returned as core.ErrExtractionParse. Page numbers
// in the reply may be absolute (1-based) or relative to the chunk; both
// are mapped to absolute zero-based pages.
func Parse(chunk core.Chunk, raw string) (*core.ExtractionResult, error) {
	body := repairJSON(stripFences(raw))
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", core.ErrExtractionParse)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var resp response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExtractionParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", core.ErrExtractionParse)
	}
	if resp.Paragraphs == nil || resp.Tables == nil || resp.Relations == nil {
		return nil, fmt.Errorf("%w: response must contain paragraphs, tables and relations", core.ErrExtractionParse)
	}

	result := &core.ExtractionResult{
		ChunkId:    chunk.Id(),
		Paragraphs: make([]core.Paragraph, 0, len(*resp.Paragraphs)),
		Tables:     make([]core.Table, 0, len(*resp.Tables)),
		Relations:  make([]core.Relation, 0, len(*resp.Relations)),
	}

	for i, p := range *resp.Paragraphs {
		page, err := resolvePage(chunk, p.PageNo)
		if err != nil {
			return nil, fmt.Errorf("%w: paragraph %d: %w", core.ErrExtractionParse, i, err)
		}
		result.Paragraphs = append(result.Paragraphs, core.Paragraph{
			DocumentId: chunk.DocumentId,
			Chunk:      chunk.Index,
			Page:       page,
			Ordinal:    i,
			Text:       strings.TrimSpace(p.Text),
		})
	}

	for i, t := range *resp.Tables {
		converted, err := convertTable(chunk, i, t)
		if err != nil {
			return nil, fmt.Errorf("%w: table %d: %w", core.ErrExtractionParse, i, err)
		}
		result.Tables = append(result.Tables, converted)
	}

	for i, r := range *resp.Relations {
		page, err := resolvePage(chunk, r.PageNo)
		if err != nil {
			return nil, fmt.Errorf("%w: relation %d: %w", core.ErrExtractionParse, i, err)
		}
		result.Relations = append(result.Relations, core.Relation{
			Source: strings.TrimSpace(r.Subject),
			Target: strings.TrimSpace(r.Object),
			Label:  strings.TrimSpace(r.Predicate),
			Chunk:  chunk.Index,
			Page:   page,
		})
	}

	if err := core.ValidateExtractionResult(result); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExtractionParse, err)
	}
	return result, nil
}

// convertTable turns the column-major wire table into rows.
func convertTable(chunk core.Chunk, ordinal int, t table) (core.Table, error) {
	page, err := resolvePage(chunk, t.PageNo)
	if err != nil {
		return core.Table{}, err
	}
	if len(t.Content) == 0 {
		return core.Table{}, core.ErrEmptyColumns
	}

	height := len(t.Content[0].Values)
	columns := make([]string, len(t.Content))
	for c, col := range t.Content {
		if len(col.Values) != height {
			return core.Table{}, fmt.Errorf("%w: column %q has %d values, want %d",
				core.ErrRowWidth, col.Name, len(col.Values), height)
		}
		for r, v := range col.Values {
			if !isScalar(v) {
				return core.Table{}, fmt.Errorf("column %q row %d: value is not a scalar", col.Name, r)
			}
		}
		columns[c] = strings.TrimSpace(col.Name)
	}

	rows := make([][]any, height)
	for r := range rows {
		row := make([]any, len(t.Content))
		for c, col := range t.Content {
			row[c] = scalar(col.Values[r])
		}
		rows[r] = row
	}

	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = fmt.Sprintf("table_p%d_%d", page+1, ordinal)
	}

	return core.Table{
		DocumentId:  chunk.DocumentId,
		Chunk:       chunk.Index,
		Page:        page,
		Ordinal:     ordinal,
		Name:        name,
		Explanation: strings.TrimSpace(t.Explanation),
		Columns:     columns,
		Rows:        rows,
	}, nil
}

// resolvePage maps a 1-based page from the reply onto the document.
func resolvePage(chunk core.Chunk, p pageNumber) (int, error) {
	if !p.set {
		return 0, errors.New("page_no is required")
	}
	switch {
	case p.page > chunk.Pages.Start && p.page <= chunk.Pages.End:
		return p.page - 1, nil
	case p.page >= 1 && p.page <= chunk.Pages.Len():
		return chunk.Pages.Start + p.page - 1, nil
	default:
		return 0, fmt.Errorf("page_no %d is outside pages %d-%d", p.page, chunk.Pages.Start+1, chunk.Pages.End)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return true
	default:
		return false
	}
}

func scalar(v any) any {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}
