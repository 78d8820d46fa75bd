package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

//go:embed schema.sql
var schemaSQL string

// PGStore keeps chunks in Postgres with a pgvector embedding column.
type PGStore struct {
	db *sql.DB
}

// OpenPG connects, pings and ensures the schema exists.
func OpenPG(ctx context.Context, databaseURL string, dimensions int) (*PGStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaFor(dimensions)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

func schemaFor(dimensions int) string {
	return strings.ReplaceAll(schemaSQL, "{{dimensions}}", strconv.Itoa(dimensions))
}

func (s *PGStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	const q = `
		INSERT INTO chunks (id, document_id, chunk_index, text, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET document_id = EXCLUDED.document_id, chunk_index = EXCLUDED.chunk_index,
		    text = EXCLUDED.text, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal metadata %s: %w", r.ID, err)
		}
		var vec any
		if len(r.Embedding) > 0 {
			vec = pgvector.NewVector(r.Embedding)
		}
		idx, _ := r.Metadata["chunk_index"].(int)
		if _, err := stmt.ExecContext(ctx, r.ID, metaString(r.Metadata, "document_id"), idx, r.Text, meta, vec); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// buildSearch renders the filtered nearest-neighbour query and its arguments.
func buildSearch(q Query) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	args := []any{pgvector.NewVector(q.Embedding)}
	where := []string{"embedding IS NOT NULL"}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("metadata->>'category' = $%d", len(args)))
	}
	if q.Subcategory != "" {
		args = append(args, q.Subcategory)
		where = append(where, fmt.Sprintf("metadata->>'subcategory' = $%d", len(args)))
	}
	if q.ImagesOnly {
		where = append(where, "(metadata->>'has_images')::boolean")
	}
	if q.TablesOnly {
		where = append(where, "(metadata->>'table_count')::int > 0")
	}
	args = append(args, limit)
	sqlText := fmt.Sprintf(`SELECT id, text, metadata, embedding <-> $1 AS distance
		FROM chunks
		WHERE %s
		ORDER BY distance
		LIMIT $%d`, strings.Join(where, " AND "), len(args))
	return sqlText, args
}

func (s *PGStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	if len(q.Embedding) == 0 {
		return nil, errors.New("vector search needs a query embedding")
	}
	sqlText, args := buildSearch(q)
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		var meta []byte
		if err := rows.Scan(&h.ID, &h.Text, &meta, &h.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", h.ID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PGStore) Chunks(ctx context.Context, documentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := `SELECT id, text, metadata FROM chunks`
	args := []any{}
	if documentID != "" {
		q += ` WHERE document_id = $1`
		args = append(args, documentID)
	}
	args = append(args, limit, max(offset, 0))
	q += fmt.Sprintf(` ORDER BY document_id, chunk_index LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var meta []byte
		if err := rows.Scan(&r.ID, &r.Text, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Documents(ctx context.Context) ([]DocumentSummary, error) {
	const q = `
		SELECT document_id,
		       MIN(metadata->>'filename'), MIN(metadata->>'category'),
		       MIN(COALESCE(metadata->>'subcategory', '')), MIN(metadata->>'source_path'),
		       COUNT(*)
		FROM chunks
		GROUP BY document_id
		ORDER BY MIN(created_at)
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		var filename, category, source sql.NullString
		if err := rows.Scan(&d.DocumentID, &filename, &category, &d.Subcategory, &source, &d.Chunks); err != nil {
			return nil, err
		}
		d.Filename, d.Category, d.SourcePath = filename.String, category.String, source.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Close() error { return s.db.Close() }
