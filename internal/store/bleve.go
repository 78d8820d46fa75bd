package store

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	fieldText       = "text"
	fieldDocumentID = "document_id"
	fieldChunkIndex = "chunk_index"
	fieldCategory   = "category"
	fieldSubcat     = "subcategory"
	fieldHasImages  = "has_images"
	fieldTableCount = "table_count"
)

// BleveStore keeps chunks in a bleve full-text index. It ranks by text
// relevance and ignores embeddings, so it runs without an embedding provider.
type BleveStore struct {
	index bleve.Index
}

func indexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = true
	doc.AddFieldMappingsAt(fieldText, text)

	for _, f := range []string{fieldDocumentID, fieldCategory, fieldSubcat, "filename", "source_path"} {
		doc.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	doc.AddFieldMappingsAt(fieldHasImages, bleve.NewBooleanFieldMapping())
	doc.AddFieldMappingsAt(fieldTableCount, bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt(fieldChunkIndex, bleve.NewNumericFieldMapping())

	im.DefaultMapping = doc
	return im
}

// OpenBleve opens the index at path, creating it when missing.
func OpenBleve(path string) (*BleveStore, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index %s: %w", path, err)
	}
	return &BleveStore{index: idx}, nil
}

// NewMemBleve returns an in-memory index.
func NewMemBleve() (*BleveStore, error) {
	idx, err := bleve.NewMemOnly(indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &BleveStore{index: idx}, nil
}

func (s *BleveStore) Add(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.index.NewBatch()
	for _, r := range records {
		doc := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			doc[k] = v
		}
		doc[fieldText] = r.Text
		if err := b.Index(r.ID, doc); err != nil {
			return fmt.Errorf("index %s: %w", r.ID, err)
		}
	}
	if err := s.index.Batch(b); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

func (s *BleveStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var main query.Query
	if q.Text == "" {
		main = bleve.NewMatchAllQuery()
	} else {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(fieldText)
		main = mq
	}
	conj := []query.Query{main}
	if q.Category != "" {
		conj = append(conj, termQuery(fieldCategory, q.Category))
	}
	if q.Subcategory != "" {
		conj = append(conj, termQuery(fieldSubcat, q.Subcategory))
	}
	if q.ImagesOnly {
		bq := bleve.NewBoolFieldQuery(true)
		bq.SetField(fieldHasImages)
		conj = append(conj, bq)
	}
	if q.TablesOnly {
		one := 1.0
		nq := bleve.NewNumericRangeQuery(&one, nil)
		nq.SetField(fieldTableCount)
		conj = append(conj, nq)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conj...), limit, 0, false)
	req.Fields = []string{"*"}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		r := recordFromFields(h.ID, h.Fields)
		hits = append(hits, Hit{Record: r, Distance: 1 / (1 + h.Score)})
	}
	return hits, nil
}

func (s *BleveStore) Chunks(ctx context.Context, documentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var q query.Query = bleve.NewMatchAllQuery()
	if documentID != "" {
		q = termQuery(fieldDocumentID, documentID)
	}
	req := bleve.NewSearchRequestOptions(q, limit, max(offset, 0), false)
	req.Fields = []string{"*"}
	req.SortBy([]string{fieldDocumentID, fieldChunkIndex})
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve list: %w", err)
	}
	out := make([]Record, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, recordFromFields(h.ID, h.Fields))
	}
	return out, nil
}

func (s *BleveStore) Documents(ctx context.Context) ([]DocumentSummary, error) {
	n, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	records, err := s.Chunks(ctx, "", int(n), 0)
	if err != nil {
		return nil, err
	}
	return summarize(records), nil
}

func (s *BleveStore) DeleteDocument(ctx context.Context, documentID string) error {
	n, err := s.index.DocCount()
	if err != nil {
		return fmt.Errorf("doc count: %w", err)
	}
	req := bleve.NewSearchRequestOptions(termQuery(fieldDocumentID, documentID), int(max(n, 1)), 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("bleve search: %w", err)
	}
	if len(res.Hits) == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	b := s.index.NewBatch()
	for _, h := range res.Hits {
		b.Delete(h.ID)
	}
	return s.index.Batch(b)
}

func (s *BleveStore) Ping(context.Context) error {
	_, err := s.index.DocCount()
	return err
}

func (s *BleveStore) Close() error { return s.index.Close() }

func termQuery(field, value string) query.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

// recordFromFields rebuilds a record from stored fields. Numbers come back
// as float64 and are restored to int for the integer metadata keys.
func recordFromFields(id string, fields map[string]any) Record {
	r := Record{ID: id, Metadata: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == fieldText {
			r.Text, _ = v.(string)
			continue
		}
		if f, ok := v.(float64); ok {
			switch k {
			case fieldChunkIndex, fieldTableCount, "image_count":
				v = int(f)
			}
		}
		r.Metadata[k] = v
	}
	return r
}
