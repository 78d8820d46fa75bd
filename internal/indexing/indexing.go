// Package indexing turns a converted document into index-aligned texts,
// metadata records and stable chunk ids.
package indexing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/dgallion1/ragingest/internal/artifact"
	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/doctree"
)

// Metadata keys stored with each chunk.
const (
	KeyFilename          = "filename"
	KeyDocumentID        = "document_id"
	KeyCategory          = "category"
	KeySubcategory       = "subcategory"
	KeyPageNumbers       = "page_numbers"
	KeyTitle             = "title"
	KeySourcePath        = "source_path"
	KeyHasImages         = "has_images"
	KeyImageCount        = "image_count"
	KeyTableCount        = "table_count"
	KeyImageReferences   = "image_references"
	KeyImageDescriptions = "image_descriptions"
	KeyFigureCaptions    = "figure_captions"
	KeyChunkIndex        = "chunk_index"
)

// Metadata is the flat record stored next to a chunk's text and vector.
type Metadata map[string]any

// Options configures one SegmentAndCorrelate run.
type Options struct {
	Category    string
	Subcategory string
	TokenBudget int
	// Source is the path or URL the document was converted from.
	Source string

	MergePeers           bool
	IncludeHeadingInText bool
	Tokenizer            chunker.Tokenizer

	// Sink receives rendered artifacts. Nil skips artifact rendering.
	Sink     artifact.Sink
	Renderer artifact.Renderer
	Log      *slog.Logger
}

// DefaultOptions merges peers and keeps headings in chunk text.
func DefaultOptions() Options {
	return Options{
		TokenBudget:          chunker.DefaultMaxTokens,
		MergePeers:           true,
		IncludeHeadingInText: true,
	}
}

// Result holds three index-aligned sequences plus the recovered failure counts.
type Result struct {
	Texts     []string
	Metadatas []Metadata
	IDs       []string

	DocumentID       string
	Filename         string
	RenderErrors     int
	ProvenanceErrors int
}

// Partial reports whether any per-item failure was recovered during the run.
func (r *Result) Partial() bool {
	return r.RenderErrors > 0 || r.ProvenanceErrors > 0
}

// SegmentAndCorrelate chunks doc, attributes its artifacts and builds one
// metadata record per chunk. Artifact attribution state is local to the call.
func SegmentAndCorrelate(ctx context.Context, doc *doctree.Document, opts Options) (*Result, error) {
	if doc == nil {
		return nil, errors.New("segment and correlate: nil document")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	filename := FilenameOf(opts.Source)
	if filename == "" {
		filename = doc.Name
	}
	docID := DocumentID(opts.Source)

	chunks := chunker.Segment(doc, chunker.Config{
		MaxTokens:            opts.TokenBudget,
		MergePeers:           opts.MergePeers,
		IncludeHeadingInText: opts.IncludeHeadingInText,
		Tokenizer:            opts.Tokenizer,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{DocumentID: docID, Filename: filename}
	if opts.Sink != nil {
		c := artifact.NewCorrelator(opts.Sink, SanitizeName(filename), log)
		if opts.Renderer != nil {
			c.Renderer = opts.Renderer
		}
		res.RenderErrors = c.Correlate(ctx, doc, chunks, artifact.NewAttribution())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res.Texts = make([]string, 0, len(chunks))
	res.Metadatas = make([]Metadata, 0, len(chunks))
	res.IDs = make([]string, 0, len(chunks))
	for i, c := range chunks {
		if c.ProvenanceErr {
			res.ProvenanceErrors++
			log.Warn("chunk provenance unavailable", "document_id", docID, "chunk", i)
		}
		id := fmt.Sprintf("%s-chunk-%d", docID, i)
		res.Texts = append(res.Texts, c.Text)
		res.IDs = append(res.IDs, id)
		res.Metadatas = append(res.Metadatas, Metadata{
			KeyFilename:          filename,
			KeyDocumentID:        docID,
			KeyCategory:          opts.Category,
			KeySubcategory:       opts.Subcategory,
			KeyPageNumbers:       chunker.JoinPages(c.PageNumbers),
			KeyTitle:             c.Title,
			KeySourcePath:        opts.Source,
			KeyHasImages:         c.Artifacts.HasImages,
			KeyImageCount:        c.Artifacts.ImageCount,
			KeyTableCount:        c.Artifacts.TableCount,
			KeyImageReferences:   strings.Join(c.Artifacts.ImageReferences, "|"),
			KeyImageDescriptions: strings.Join(nonEmpty(c.Artifacts.ImageDescriptions), "|"),
			KeyFigureCaptions:    strings.Join(c.Artifacts.FigureCaptions, "|"),
			KeyChunkIndex:        i,
		})
	}
	return res, nil
}

// DocumentID derives the short stable id of a source path or URL.
func DocumentID(source string) string {
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])[:8]
}

// FilenameOf returns the last path segment of a local path or URL. Query
// strings and fragments of a URL are ignored.
func FilenameOf(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil || u.Path == "" || u.Path == "/" {
			return ""
		}
		return path.Base(u.Path)
	}
	if source == "" {
		return ""
	}
	return filepath.Base(source)
}

// SanitizeName strips path components so name is safe as a single directory or file name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
