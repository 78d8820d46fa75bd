package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func sampleRecords() []Record {
	mk := func(id, doc string, idx int, text, category string, images bool, tables int) Record {
		return Record{
			ID:   id,
			Text: text,
			Metadata: map[string]any{
				"document_id": doc,
				"filename":    doc + ".pdf",
				"category":    category,
				"subcategory": "",
				"source_path": "/uploads/" + doc + ".pdf",
				"chunk_index": idx,
				"has_images":  images,
				"table_count": tables,
			},
		}
	}
	return []Record{
		mk("aaaa-chunk-0", "aaaa", 0, "installing the pump assembly", "manuals", true, 0),
		mk("aaaa-chunk-1", "aaaa", 1, "pump pressure table values", "manuals", false, 2),
		mk("bbbb-chunk-0", "bbbb", 0, "quarterly revenue for the pump division", "reports", false, 0),
	}
}

func newTestBleve(t *testing.T) *BleveStore {
	t.Helper()
	s, err := NewMemBleve()
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Add(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("add: %v", err)
	}
	return s
}

func TestBleve_SearchFilters(t *testing.T) {
	s := newTestBleve(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all matches", Query{Text: "pump", Limit: 10}, []string{"aaaa-chunk-0", "aaaa-chunk-1", "bbbb-chunk-0"}},
		{"category", Query{Text: "pump", Limit: 10, Category: "reports"}, []string{"bbbb-chunk-0"}},
		{"images only", Query{Text: "pump", Limit: 10, ImagesOnly: true}, []string{"aaaa-chunk-0"}},
		{"tables only", Query{Text: "pump", Limit: 10, TablesOnly: true}, []string{"aaaa-chunk-1"}},
		{"no match", Query{Text: "turbine", Limit: 10}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hits, err := s.Search(ctx, tc.q)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			got := map[string]bool{}
			for _, h := range hits {
				got[h.ID] = true
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, hits)
			}
			for _, id := range tc.want {
				if !got[id] {
					t.Errorf("expected hit %s, got %v", id, got)
				}
			}
		})
	}
}

func TestBleve_SearchReturnsMetadata(t *testing.T) {
	s := newTestBleve(t)
	hits, err := s.Search(context.Background(), Query{Text: "revenue"})
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected one hit, got %v (%v)", hits, err)
	}
	h := hits[0]
	if h.Text != "quarterly revenue for the pump division" {
		t.Errorf("unexpected text %q", h.Text)
	}
	if h.Metadata["category"] != "reports" || h.Metadata["chunk_index"] != 0 {
		t.Errorf("unexpected metadata %v", h.Metadata)
	}
	if h.Distance <= 0 || h.Distance >= 1 {
		t.Errorf("expected distance in (0,1), got %f", h.Distance)
	}
}

func TestBleve_ChunksOrderedAndPaged(t *testing.T) {
	s := newTestBleve(t)
	ctx := context.Background()

	recs, err := s.Chunks(ctx, "aaaa", 10, 0)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "aaaa-chunk-0" || recs[1].ID != "aaaa-chunk-1" {
		t.Fatalf("unexpected chunks %v", recs)
	}

	page, err := s.Chunks(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(page) != 1 || page[0].ID != "aaaa-chunk-1" {
		t.Errorf("expected second record, got %v", page)
	}
}

func TestBleve_DocumentsAndDelete(t *testing.T) {
	s := newTestBleve(t)
	ctx := context.Background()

	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 2 || docs[0].DocumentID != "aaaa" || docs[0].Chunks != 2 || docs[0].Filename != "aaaa.pdf" {
		t.Fatalf("unexpected summaries %+v", docs)
	}

	if err := s.DeleteDocument(ctx, "aaaa"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	docs, _ = s.Documents(ctx)
	if len(docs) != 1 || docs[0].DocumentID != "bbbb" {
		t.Errorf("expected only bbbb left, got %+v", docs)
	}
	if err := s.DeleteDocument(ctx, "aaaa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildSearch(t *testing.T) {
	sqlText, args := buildSearch(Query{Embedding: []float32{1, 2}, Category: "manuals", TablesOnly: true, Limit: 3})
	if !strings.Contains(sqlText, "metadata->>'category' = $2") {
		t.Errorf("expected category placeholder $2, got %s", sqlText)
	}
	if !strings.Contains(sqlText, "(metadata->>'table_count')::int > 0") {
		t.Errorf("expected table filter, got %s", sqlText)
	}
	if !strings.Contains(sqlText, "LIMIT $3") || len(args) != 3 || args[2] != 3 {
		t.Errorf("unexpected limit binding %s %v", sqlText, args)
	}
	if strings.Contains(sqlText, "has_images") {
		t.Errorf("unexpected images filter in %s", sqlText)
	}
}

func TestSchemaFor(t *testing.T) {
	if s := schemaFor(768); !strings.Contains(s, "vector(768)") || strings.Contains(s, "{{") {
		t.Errorf("expected dimension substituted, got %s", s)
	}
}
