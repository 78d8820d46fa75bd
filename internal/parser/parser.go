package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/ragingest/internal/doctree"
)

// ErrConversion marks a source that could not be turned into a document.
var ErrConversion = errors.New("conversion failed")

// Parser converts raw document bytes into a structured document.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{Fallback: true}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported file extension %q", ErrConversion, ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Convert picks a parser for filename and runs it, wrapping failures in ErrConversion.
func Convert(r io.Reader, filename string) (*doctree.Document, error) {
	p, err := ForFile(filename)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(r, filename)
	if err != nil {
		if errors.Is(err, ErrConversion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConversion, filename, err)
	}
	return doc, nil
}

// spans assigns character-span provenance as items are appended in reading order.
type spans struct {
	offset int
}

func (s *spans) next(page int, text string) []doctree.Provenance {
	n := utf8.RuneCountInString(text)
	p := doctree.Provenance{Page: page, CharStart: s.offset, CharEnd: s.offset + n}
	s.offset += n + 1
	return []doctree.Provenance{p}
}

func trimExt(filename string, exts ...string) string {
	base := filepath.Base(filename)
	for _, ext := range exts {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}
