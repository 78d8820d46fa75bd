package api

import (
	"errors"
	"net/http"

	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/dgallion1/ragingest/internal/pipeline"
)

// decodeCrawl reads a crawl request, defaulting to an unlimited recursive crawl.
func decodeCrawl(r *http.Request) (crawl.Request, error) {
	req := crawl.Request{Recursive: true, MaxDepth: -1}
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.URL == "" || req.Username == "" || req.Token == "" {
		return req, errors.New("url, username and token are required")
	}
	if _, _, err := crawl.ParseRootURL(req.URL); err != nil {
		return req, err
	}
	return req, nil
}

// handleConfluenceProcess crawls synchronously and returns every chunk.
func (s *Server) handleConfluenceProcess(w http.ResponseWriter, r *http.Request) {
	if s.crawler == nil {
		jsonError(w, "confluence crawling is not configured", http.StatusServiceUnavailable)
		return
	}
	req, err := decodeCrawl(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.crawler.Crawl(r.Context(), req)
	if errors.Is(err, crawl.ErrInvalidInput) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Error("confluence crawl", "url", req.URL, "error", err)
		jsonError(w, "crawl failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	chunks := res.Chunks
	if chunks == nil {
		chunks = []crawl.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"total_chunks":    res.TotalChunks,
		"pages_processed": res.PagesProcessed,
		"chunks":          chunks,
	})
}

func (s *Server) handleConfluenceTask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCrawl(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.submit(w, pipeline.NewConfluenceJob(req), "crawl queued for processing")
}
