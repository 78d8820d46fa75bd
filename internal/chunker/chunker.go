package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
)

// DefaultMaxTokens matches the context window of the embedding model.
const DefaultMaxTokens = 8191

// Config controls segmentation.
type Config struct {
	MaxTokens  int  // token budget per chunk
	MergePeers bool // merge adjacent small items while the result fits the budget
	// IncludeHeadingInText keeps heading text in Chunk.Text. Headings are
	// always recorded as source items either way.
	IncludeHeadingInText bool
	Tokenizer            Tokenizer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            DefaultMaxTokens,
		MergePeers:           true,
		IncludeHeadingInText: true,
		Tokenizer:            WordTokenizer{},
	}
}

type segmenter struct {
	cfg    Config
	chunks []doctree.Chunk

	open    *doctree.Chunk
	texts   []string
	title   string
	pending []*doctree.Item // artifacts seen before any chunk existed
}

// Segment splits a document into chunks that each stay within cfg.MaxTokens,
// except for single items that exceed it on their own.
func Segment(doc *doctree.Document, cfg Config) []doctree.Chunk {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = WordTokenizer{}
	}
	if doc == nil {
		return nil
	}

	s := &segmenter{cfg: cfg}
	doc.Walk(func(it *doctree.Item, _ int) bool {
		s.visit(it)
		return true
	})
	s.flush()

	if len(s.pending) > 0 {
		if len(s.chunks) == 0 {
			// A document of only pictures still yields one chunk to own them.
			s.chunks = append(s.chunks, doctree.Chunk{Title: s.title})
		}
		s.chunks[0].Refs = append(s.pending, s.chunks[0].Refs...)
	}
	return s.chunks
}

func (s *segmenter) visit(it *doctree.Item) {
	switch {
	case it.IsHeading():
		s.flush()
		s.title = it.Text
		s.start(it)
		if !s.cfg.MergePeers || s.oversize(it) {
			s.flush()
		}

	case it.IsTextBearing():
		if s.open != nil && s.cfg.MergePeers && s.fits(it) {
			s.append(it)
			return
		}
		s.flush()
		s.start(it)
		if !s.cfg.MergePeers || s.oversize(it) {
			s.flush()
		}

	case it.IsArtifact():
		switch {
		case s.open != nil:
			s.open.Refs = append(s.open.Refs, it)
		case len(s.chunks) > 0:
			last := &s.chunks[len(s.chunks)-1]
			last.Refs = append(last.Refs, it)
		default:
			s.pending = append(s.pending, it)
		}
	}
}

func (s *segmenter) oversize(it *doctree.Item) bool {
	return s.cfg.Tokenizer.CountTokens(s.itemText(it)) > s.cfg.MaxTokens
}

func (s *segmenter) fits(it *doctree.Item) bool {
	candidate := strings.Join(append(append([]string(nil), s.texts...), s.itemText(it)), "\n\n")
	return s.cfg.Tokenizer.CountTokens(candidate) <= s.cfg.MaxTokens
}

func (s *segmenter) itemText(it *doctree.Item) string {
	if it.IsHeading() && !s.cfg.IncludeHeadingInText {
		return ""
	}
	return it.Text
}

func (s *segmenter) start(it *doctree.Item) {
	s.open = &doctree.Chunk{Title: s.title}
	s.texts = s.texts[:0]
	s.append(it)
}

func (s *segmenter) append(it *doctree.Item) {
	s.open.SourceItems = append(s.open.SourceItems, it)
	if t := s.itemText(it); t != "" {
		s.texts = append(s.texts, t)
	}
}

func (s *segmenter) flush() {
	if s.open == nil {
		return
	}
	c := s.open
	s.open = nil

	c.Index = len(s.chunks)
	c.Text = strings.Join(s.texts, "\n\n")
	s.texts = s.texts[:0]

	pages, err := pageNumbers(c.SourceItems)
	if err != nil {
		c.PageNumbers = nil
		c.Title = ""
		c.ProvenanceErr = true
	} else {
		c.PageNumbers = pages
	}
	s.chunks = append(s.chunks, *c)
}

// pageNumbers returns the sorted distinct pages of items. Page 0 marks an
// unpaged source and is omitted.
func pageNumbers(items []*doctree.Item) (pages []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("page lookup: %v", r)
		}
	}()

	seen := make(map[int]bool)
	for _, it := range items {
		for _, p := range it.Prov {
			if p.Page < 0 {
				return nil, fmt.Errorf("item %s: invalid page %d", it.SelfRef, p.Page)
			}
			if p.Page == 0 || seen[p.Page] {
				continue
			}
			seen[p.Page] = true
			pages = append(pages, p.Page)
		}
	}
	sort.Ints(pages)
	return pages, nil
}

// JoinPages renders page numbers the way the index metadata stores them.
func JoinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ",")
}
