package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
)

// TextParser splits plain text into blank-line separated paragraphs.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	b := doctree.NewBuilder(filename, trimExt(filename, ".txt"))
	var sp spans
	var lines []string

	flush := func() {
		if len(lines) == 0 {
			return
		}
		para := strings.Join(lines, "\n")
		b.Add(&doctree.Item{Label: doctree.LabelText, Text: para, Prov: sp.next(0, para)})
		lines = lines[:0]
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	flush()
	return b.Document(), nil
}
