package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/ragingest/internal/indexing"
	"github.com/dgallion1/ragingest/internal/parser"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// extra 1MB for form overhead
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	original := indexing.SanitizeName(header.Filename)
	if !parser.IsSupportedExtension(original) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(original)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	now := time.Now()
	stored := fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8], original)
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		jsonError(w, "failed to prepare upload dir", http.StatusInternalServerError)
		return
	}
	path := filepath.Join(s.cfg.UploadDir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Error("save upload", "path", path, "error", err)
		jsonError(w, "failed to save file", http.StatusInternalServerError)
		return
	}
	s.log.Info("file uploaded", "path", path, "bytes", len(data))

	writeJSON(w, http.StatusOK, map[string]any{
		"filename":          stored,
		"original_filename": header.Filename,
		"file_path":         path,
		"file_size":         len(data),
		"upload_time":       now.UTC().Format(time.RFC3339),
	})
}

type processRequest struct {
	Source      string `json:"pdf_path_or_url"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		jsonError(w, "pdf_path_or_url is required", http.StatusBadRequest)
		return
	}
	if !parser.IsSupportedExtension(indexing.FilenameOf(req.Source)) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(req.Source)), http.StatusBadRequest)
		return
	}

	job := pipeline.NewDocumentJob(req.Source, req.Category, req.Subcategory)
	s.submit(w, job, "document queued for processing")
}

func (s *Server) submit(w http.ResponseWriter, job *pipeline.Job, msg string) {
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": job.ID,
		"status":  job.Status(),
		"message": msg,
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "taskID"))
	if job == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleTaskRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	err := s.orchestrator.Revoke(id)
	switch {
	case errors.Is(err, pipeline.ErrJobUnknown):
		jsonError(w, "task not found", http.StatusNotFound)
	case errors.Is(err, pipeline.ErrJobEnded):
		jsonError(w, "task already finished", http.StatusConflict)
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "status": pipeline.StatusRevoked})
	}
}
