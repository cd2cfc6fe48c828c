package ingest

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
)

// MarkdownImporter handles .md highlight notes in the common
// book-notes layout:
//
//	# Book Title
//	## Chapter (optional)
//	> highlighted passage
//	> continued on the next line
//	a plain paragraph after a quote becomes its note
//
// Every level-1 heading starts a new book; blockquote runs become
// highlights.
type MarkdownImporter struct{}

func (m *MarkdownImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func (m *MarkdownImporter) Import(ctx context.Context, path string) ([]RawHighlight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		highlights []RawHighlight
		book       string
		chapter    string
		quote      []string
	)

	flush := func() {
		if len(quote) == 0 {
			return
		}
		highlights = append(highlights, RawHighlight{
			BookTitle: book,
			Chapter:   chapter,
			Content:   strings.Join(quote, " "),
		})
		quote = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "# "):
			flush()
			book = strings.TrimSpace(line[2:])
			chapter = ""
		case strings.HasPrefix(line, "## "):
			flush()
			chapter = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, ">"):
			quote = append(quote, strings.TrimSpace(strings.TrimPrefix(line, ">")))
		case line == "":
			flush()
		default:
			// A paragraph directly after a quote annotates it.
			followsQuote := len(quote) > 0
			flush()
			if followsQuote && len(highlights) > 0 && highlights[len(highlights)-1].Note == "" {
				highlights[len(highlights)-1].Note = line
			}
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return highlights, nil
}
