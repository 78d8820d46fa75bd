package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgallion1/ragingest/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxSearchResults = 50

type searchRequest struct {
	QueryText         string `json:"query_text"`
	NResults          int    `json:"n_results"`
	CategoryFilter    string `json:"category_filter"`
	SubcategoryFilter string `json:"subcategory_filter"`
	ImagesOnly        bool   `json:"images_only"`
	TablesOnly        bool   `json:"tables_only"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.QueryText = strings.TrimSpace(req.QueryText)
	if req.QueryText == "" {
		jsonError(w, "query_text is required", http.StatusBadRequest)
		return
	}
	if req.NResults <= 0 {
		req.NResults = store.DefaultSearchLimit
	}
	req.NResults = min(req.NResults, maxSearchResults)

	q := store.Query{
		Text:        req.QueryText,
		Limit:       req.NResults,
		Category:    req.CategoryFilter,
		Subcategory: req.SubcategoryFilter,
		ImagesOnly:  req.ImagesOnly,
		TablesOnly:  req.TablesOnly,
	}
	if s.embedder != nil {
		vec, err := s.embedder.EmbedQuery(r.Context(), req.QueryText)
		if err != nil {
			s.log.Error("embed query", "error", err)
			jsonError(w, "failed to embed query", http.StatusBadGateway)
			return
		}
		q.Embedding = vec
	}

	hits, err := s.store.Search(r.Context(), q)
	if err != nil {
		s.log.Error("search", "error", err)
		jsonError(w, "search failed", http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []store.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.QueryText,
		"results": hits,
		"count":   len(hits),
	})
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultListLimit)
	if err != nil || limit <= 0 {
		jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		jsonError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	chunks, err := s.store.Chunks(r.Context(), r.URL.Query().Get("document_id"), limit, offset)
	if err != nil {
		s.log.Error("list chunks", "error", err)
		jsonError(w, "failed to list chunks", http.StatusInternalServerError)
		return
	}
	if chunks == nil {
		chunks = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks": chunks,
		"count":  len(chunks),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.Documents(r.Context())
	if err != nil {
		s.log.Error("list documents", "error", err)
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// handleDeleteDocument removes every stored chunk of a document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	err := s.store.DeleteDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("delete document", "document_id", id, "error", err)
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "deleted": true})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
