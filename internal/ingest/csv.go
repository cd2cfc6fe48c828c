package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVImporter handles .csv and .tsv highlight exports.
//
// The first row is a header; recognized columns (case-insensitive) are
// book, author, content (or highlight/text/quote), note, page, chapter
// and color. Unknown columns are ignored.
type CSVImporter struct{}

func (c *CSVImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

func (c *CSVImporter) Import(ctx context.Context, path string) ([]RawHighlight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, names ...string) string {
		for _, name := range names {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}

	var highlights []RawHighlight
	for _, row := range records[1:] {
		rh := RawHighlight{
			BookTitle:  field(row, "book", "title", "book_title"),
			BookAuthor: field(row, "author"),
			Content:    field(row, "content", "highlight", "text", "quote"),
			Note:       field(row, "note"),
			Chapter:    field(row, "chapter"),
			Color:      field(row, "color"),
		}
		if page := field(row, "page"); page != "" {
			if n, err := strconv.Atoi(page); err == nil && n > 0 {
				rh.Page = n
			}
		}
		highlights = append(highlights, rh)
	}
	return highlights, nil
}
