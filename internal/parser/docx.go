package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	// go-docx needs a ReaderAt+size, so write to temp file.
	tmp, err := os.CreateTemp("", "ragingest-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, size)
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	b := doctree.NewBuilder(filename, trimExt(filename, ".docx"))
	var sp spans

	type stackEntry struct {
		item  *doctree.Item
		level int
	}
	var stack []stackEntry
	add := func(it *doctree.Item) {
		if len(stack) == 0 {
			b.Add(it)
			return
		}
		b.AddChild(stack[len(stack)-1].item, it)
	}

	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			text := docxParagraphText(v)
			if text == "" {
				continue
			}
			level := docxHeadingLevel(v)
			if level == 0 {
				add(&doctree.Item{Label: doctree.LabelText, Text: text, Prov: sp.next(0, text)})
				continue
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			h := &doctree.Item{Label: doctree.LabelHeading, Text: text, Level: level, Prov: sp.next(0, text)}
			add(h)
			stack = append(stack, stackEntry{item: h, level: level})

		case *docx.Table:
			text := docxTableText(v)
			add(&doctree.Item{Label: doctree.LabelTable, Text: text, Prov: sp.next(0, text)})
		}
	}

	return b.Document(), nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	if !strings.HasPrefix(style, "heading") {
		return 0
	}
	switch strings.TrimPrefix(style, "heading") {
	case "1":
		return 1
	case "2":
		return 2
	case "3":
		return 3
	case "4":
		return 4
	case "5":
		return 5
	case "6":
		return 6
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func docxTableText(tbl *docx.Table) string {
	var rows []string
	for _, row := range tbl.TableRows {
		var cells []string
		for _, cell := range row.TableCells {
			var parts []string
			for _, para := range cell.Paragraphs {
				if t := docxParagraphText(para); t != "" {
					parts = append(parts, t)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}
