// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
)

// ValidateParagraph validates a Paragraph according to domain rules.
//
// Validation rules:
//   - Text must not be blank
//   - Page must not be negative
func ValidateParagraph(p *Paragraph) error {
	if p == nil {
		return fmt.Errorf("%w: paragraph is nil", ErrInvalidParagraph)
	}
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidParagraph, ErrEmptyContent)
	}
	if p.Page < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParagraph, ErrNegativePage)
	}
	return nil
}

// ValidateTable validates a Table according to domain rules.
//
// Validation rules:
//   - At least one column
//   - Column names are non-blank and unique (case-insensitive)
//   - Every row has exactly len(Columns) values
//
// A table with zero rows is valid.
func ValidateTable(t *Table) error {
	if t == nil {
		return fmt.Errorf("%w: table is nil", ErrInvalidTable)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTable, ErrEmptyColumns)
	}

	seen := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		key := strings.ToLower(strings.TrimSpace(col))
		if key == "" {
			return fmt.Errorf("%w: %w", ErrInvalidTable, ErrEmptyLabel)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %w: %q", ErrInvalidTable, ErrDuplicateColumn, col)
		}
		seen[key] = struct{}{}
	}

	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: %w: row %d has %d values, want %d",
				ErrInvalidTable, ErrRowWidth, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// ValidateRelation validates a Relation according to domain rules.
func ValidateRelation(r *Relation) error {
	if r == nil {
		return fmt.Errorf("%w: relation is nil", ErrInvalidRelation)
	}
	if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" ||
		strings.TrimSpace(r.Label) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRelation, ErrEmptyLabel)
	}
	return nil
}

// ValidateExtractionResult validates every record in an extraction result.
func ValidateExtractionResult(result *ExtractionResult) error {
	for i := range result.Paragraphs {
		if err := ValidateParagraph(&result.Paragraphs[i]); err != nil {
			return fmt.Errorf("paragraph %d: %w", i, err)
		}
	}
	for i := range result.Tables {
		if err := ValidateTable(&result.Tables[i]); err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
	}
	for i := range result.Relations {
		if err := ValidateRelation(&result.Relations[i]); err != nil {
			return fmt.Errorf("relation %d: %w", i, err)
		}
	}
	return nil
}
