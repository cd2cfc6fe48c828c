package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JSONImporter handles .json highlight exports: a top-level array of
// highlight objects, or an object with a "highlights" array.
type JSONImporter struct{}

type jsonHighlight struct {
	Book    string `json:"book"`
	Title   string `json:"title"` // alias for book
	Author  string `json:"author"`
	Content string `json:"content"`
	Text    string `json:"text"` // alias for content
	Note    string `json:"note"`
	Page    int    `json:"page"`
	Chapter string `json:"chapter"`
	Color   string `json:"color"`
}

type jsonExport struct {
	Highlights []jsonHighlight `json:"highlights"`
}

func (j *JSONImporter) CanHandle(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}

func (j *JSONImporter) Import(ctx context.Context, path string) ([]RawHighlight, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []jsonHighlight
	if err := json.Unmarshal(data, &items); err != nil {
		var export jsonExport
		if err := json.Unmarshal(data, &export); err != nil {
			return nil, fmt.Errorf("parsing %s: expected an array of highlights or {\"highlights\": [...]}: %w", path, err)
		}
		items = export.Highlights
	}

	var highlights []RawHighlight
	for _, item := range items {
		rh := RawHighlight{
			BookTitle:  item.Book,
			BookAuthor: item.Author,
			Content:    item.Content,
			Note:       item.Note,
			Chapter:    item.Chapter,
			Color:      item.Color,
		}
		if rh.BookTitle == "" {
			rh.BookTitle = item.Title
		}
		if rh.Content == "" {
			rh.Content = item.Text
		}
		if item.Page > 0 {
			rh.Page = item.Page
		}
		highlights = append(highlights, rh)
	}
	return highlights, nil
}
