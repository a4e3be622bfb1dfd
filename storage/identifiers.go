package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest database, table or column name accepted
// by the relational backends.
const MaxIdentifierLength = 64

var unsafeIdentifierChars = regexp.MustCompile(`[^0-9A-Za-z_]`)

// SanitizeIdentifier maps name onto [0-9A-Za-z_], prefixes names that start
// with a digit and truncates to MaxIdentifierLength.
func SanitizeIdentifier(name string) (string, error) {
	id := unsafeIdentifierChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if strings.Trim(id, "_") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	if len(id) > MaxIdentifierLength {
		id = id[:MaxIdentifierLength]
	}
	return id, nil
}

// SanitizeColumns sanitizes each column name, suffixing names that collide
// after sanitizing (or with RowIDColumn) so the result stays unique.
func SanitizeColumns(columns []string) ([]string, error) {
	out := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns)+1)
	seen[RowIDColumn] = struct{}{}
	for i, col := range columns {
		id, err := SanitizeIdentifier(col)
		if err != nil {
			return nil, err
		}
		candidate := id
		for n := 2; ; n++ {
			if _, ok := seen[strings.ToLower(candidate)]; !ok {
				break
			}
			suffix := fmt.Sprintf("_%d", n)
			candidate = id[:min(len(id), MaxIdentifierLength-len(suffix))] + suffix
		}
		seen[strings.ToLower(candidate)] = struct{}{}
		out[i] = candidate
	}
	return out, nil
}

// DatabaseName returns the relational container name for a document.
func DatabaseName(documentID string) string {
	id, err := SanitizeIdentifier("doc_" + documentID)
	if err != nil {
		return "doc"
	}
	return id
}

// CheckIdentifier returns ErrInvalidIdentifier unless name is already in
// sanitized form. Backends call it before interpolating names into SQL.
func CheckIdentifier(name string) error {
	id, err := SanitizeIdentifier(name)
	if err != nil {
		return err
	}
	if id != name {
		return fmt.Errorf("%w: %q is not sanitized", ErrInvalidIdentifier, name)
	}
	return nil
}

// CheckIdentifiers applies CheckIdentifier to every name.
func CheckIdentifiers(names ...string) error {
	for _, name := range names {
		if err := CheckIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

// RowIDColumn is the surrogate key column added to every relational table.
const RowIDColumn = "_row_id"

// CellValue converts an extracted cell to the text stored in a table.
// Missing values stay NULL.
func CellValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
