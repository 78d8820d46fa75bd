package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/dgallion1/ragingest/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files. It reads page text with the Go library and,
// when Fallback is set, retries through docconv if that fails.
type PDFParser struct {
	Fallback bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "ragingest-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	pages, err := extractPDFPages(tmpPath)
	if err != nil && p.Fallback {
		pages, err = extractDocconvPages(tmpPath)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	return buildPDFDocument(filename, pages), nil
}

func buildPDFDocument(filename string, pages []string) *doctree.Document {
	b := doctree.NewBuilder(filename, trimExt(filename, ".pdf"))
	var sp spans
	for i, page := range pages {
		for _, para := range splitParagraphs(page) {
			b.Add(&doctree.Item{
				Label: doctree.LabelText,
				Text:  para,
				Prov:  sp.next(i+1, para),
			})
		}
	}
	return b.Document()
}

// extractPDFPages returns one string per page; pages that fail to decode are left empty.
func extractPDFPages(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// extractDocconvPages converts with docconv, which separates pages with form feeds.
func extractDocconvPages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := docconv.Convert(f, "application/pdf", false)
	if err != nil {
		return nil, fmt.Errorf("docconv: %w", err)
	}
	return strings.Split(res.Body, "\f"), nil
}

// splitParagraphs breaks page text on blank lines.
func splitParagraphs(page string) []string {
	var out []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, "\n"))
			current = current[:0]
		}
	}
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}
