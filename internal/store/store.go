// Package store persists indexed chunks and answers filtered searches.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document has no stored chunks.
var ErrNotFound = errors.New("not found")

// Record is one stored chunk.
type Record struct {
	ID        string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"-"`
}

// Hit is a search result. Distance is lower for closer matches.
type Hit struct {
	Record
	Distance float64 `json:"distance"`
}

// Query selects chunks for a search.
type Query struct {
	Text        string
	Embedding   []float32
	Limit       int
	Category    string
	Subcategory string
	ImagesOnly  bool
	TablesOnly  bool
}

// DocumentSummary describes one stored document.
type DocumentSummary struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	SourcePath  string `json:"source_path"`
	Chunks      int    `json:"chunks"`
}

// Store is implemented by the pgvector and bleve backends.
type Store interface {
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, q Query) ([]Hit, error)
	// Chunks lists chunks in document order. An empty documentID lists all.
	Chunks(ctx context.Context, documentID string, limit, offset int) ([]Record, error)
	Documents(ctx context.Context) ([]DocumentSummary, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	DefaultSearchLimit = 5
	DefaultListLimit   = 100
)

func metaString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// summarize folds records into per-document summaries, keeping first-seen order.
func summarize(records []Record) []DocumentSummary {
	index := map[string]int{}
	var out []DocumentSummary
	for _, r := range records {
		id := metaString(r.Metadata, "document_id")
		if i, ok := index[id]; ok {
			out[i].Chunks++
			continue
		}
		index[id] = len(out)
		out = append(out, DocumentSummary{
			DocumentID:  id,
			Filename:    metaString(r.Metadata, "filename"),
			Category:    metaString(r.Metadata, "category"),
			Subcategory: metaString(r.Metadata, "subcategory"),
			SourcePath:  metaString(r.Metadata, "source_path"),
			Chunks:      1,
		})
	}
	return out
}
