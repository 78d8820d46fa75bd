package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/ragingest/internal/artifact"
	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/indexing"
	"github.com/dgallion1/ragingest/internal/parser"
	"github.com/dgallion1/ragingest/internal/store"
)

const fetchTimeout = 2 * time.Minute

// ErrSourceNotAllowed is returned for local paths outside the upload directory.
var ErrSourceNotAllowed = errors.New("source not allowed")

// WorkerConfig holds what a worker needs besides its collaborators.
type WorkerConfig struct {
	TokenBudget          int
	IncludeHeadingInText bool
	ExportAll            bool
	// UploadDir confines local sources. Empty allows any path.
	UploadDir      string
	MaxSourceBytes int64
}

// Worker runs document and crawl jobs.
type Worker struct {
	cfg      WorkerConfig
	store    store.Store
	embedder embed.Embedder
	sink     artifact.Sink
	renderer artifact.Renderer
	crawler  *crawl.Crawler
	http     *http.Client
	log      *slog.Logger
}

// NewWorker builds a worker. embedder may be nil for stores that rank by
// text alone. sink may be nil to skip artifact rendering.
func NewWorker(cfg WorkerConfig, st store.Store, embedder embed.Embedder, sink artifact.Sink, crawler *crawl.Crawler, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = chunker.DefaultMaxTokens
	}
	return &Worker{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		sink:     sink,
		renderer: artifact.PNGRenderer{},
		crawler:  crawler,
		http:     &http.Client{Timeout: fetchTimeout},
		log:      log,
	}
}

// Process runs job to a terminal state. Revocation is observed between stages.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "kind", job.Kind)
	if job.Status().Terminal() {
		log.Info("job ended before start", "status", job.Status())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.setCancel(cancel)

	var err error
	switch job.Kind {
	case KindDocument:
		err = w.processDocument(ctx, job, log)
	case KindConfluence:
		err = w.processConfluence(ctx, job, log)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	switch {
	case err == nil:
	case job.Status() == StatusRevoked:
		log.Info("job revoked", "error", err)
	default:
		log.Error("job failed", "error", err)
		job.Fail(err)
	}
}

var errStopped = errors.New("job stopped")

func (w *Worker) stage(ctx context.Context, job *Job, status JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !job.SetStage(status) {
		return errStopped
	}
	return nil
}

func (w *Worker) processDocument(ctx context.Context, job *Job, log *slog.Logger) error {
	if err := w.stage(ctx, job, StatusInitializing); err != nil {
		return err
	}
	log = log.With("source", job.Source)
	data, filename, err := w.readSource(ctx, job.Source)
	if err != nil {
		return err
	}

	if err := w.stage(ctx, job, StatusConverting); err != nil {
		return err
	}
	doc, err := parser.Convert(bytes.NewReader(data), filename)
	if err != nil {
		return err
	}

	if err := w.stage(ctx, job, StatusChunking); err != nil {
		return err
	}
	opts := indexing.DefaultOptions()
	opts.Category = job.Category
	opts.Subcategory = job.Subcategory
	opts.TokenBudget = w.cfg.TokenBudget
	opts.IncludeHeadingInText = w.cfg.IncludeHeadingInText
	opts.Source = job.Source
	opts.Sink = w.sink
	opts.Renderer = w.renderer
	opts.Log = log
	res, err := indexing.SegmentAndCorrelate(ctx, doc, opts)
	if err != nil {
		return err
	}
	log.Info("document segmented", "chunks", len(res.Texts), "render_errors", res.RenderErrors, "provenance_errors", res.ProvenanceErrors)

	result := &Result{
		ChunksProcessed:  len(res.Texts),
		DocumentID:       res.DocumentID,
		Filename:         res.Filename,
		RenderErrors:     res.RenderErrors,
		ProvenanceErrors: res.ProvenanceErrors,
	}
	if w.cfg.ExportAll && w.sink != nil {
		files, failed, err := artifact.ExportAll(ctx, doc, w.renderer, w.sink, indexing.SanitizeName(res.Filename), log)
		if err != nil {
			return fmt.Errorf("export artifacts: %w", err)
		}
		result.ExportedFiles = files
		result.ExportErrors = failed
		if failed > 0 {
			job.Warn(fmt.Sprintf("%d artifacts could not be exported", failed))
		}
	}
	if res.RenderErrors > 0 {
		job.Warn(fmt.Sprintf("%d artifacts could not be rendered", res.RenderErrors))
	}
	if res.ProvenanceErrors > 0 {
		job.Warn(fmt.Sprintf("%d chunks have no provenance", res.ProvenanceErrors))
	}

	if err := w.stage(ctx, job, StatusStoring); err != nil {
		return err
	}
	if err := w.storeResult(ctx, res); err != nil {
		return err
	}

	status := StatusCompleted
	if res.Partial() || result.ExportErrors > 0 {
		status = StatusPartial
	}
	job.Finish(status, result)
	log.Info("document stored", "status", status, "document_id", res.DocumentID)
	return nil
}

func (w *Worker) storeResult(ctx context.Context, res *indexing.Result) error {
	if len(res.Texts) == 0 {
		return nil
	}
	var vecs [][]float32
	if w.embedder != nil {
		var err error
		vecs, err = w.embedder.Embed(ctx, res.Texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
	}
	records := make([]store.Record, len(res.Texts))
	for i := range res.Texts {
		records[i] = store.Record{ID: res.IDs[i], Text: res.Texts[i], Metadata: res.Metadatas[i]}
		if vecs != nil {
			records[i].Embedding = vecs[i]
		}
	}
	if err := w.store.Add(ctx, records); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}

func (w *Worker) processConfluence(ctx context.Context, job *Job, log *slog.Logger) error {
	if w.crawler == nil {
		return errors.New("confluence crawling is not configured")
	}
	if err := w.stage(ctx, job, StatusInitializing); err != nil {
		return err
	}
	if err := w.stage(ctx, job, StatusConverting); err != nil {
		return err
	}
	res, err := w.crawler.Crawl(ctx, job.Crawl)
	if err != nil {
		return err
	}
	job.Finish(StatusCompleted, &Result{ChunksProcessed: res.TotalChunks, Crawl: res})
	log.Info("crawl stored", "pages", res.PagesProcessed, "chunks", res.TotalChunks)
	return nil
}

// readSource loads a local file or downloads a URL, bounded by MaxSourceBytes.
func (w *Worker) readSource(ctx context.Context, source string) ([]byte, string, error) {
	limit := w.cfg.MaxSourceBytes
	if limit <= 0 {
		limit = 50 << 20
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil {
			return nil, "", fmt.Errorf("parse source url: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, "", fmt.Errorf("create request: %w", err)
		}
		resp, err := w.http.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("download %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("download %s: status %d", source, resp.StatusCode)
		}
		data, err := readLimited(resp.Body, limit)
		if err != nil {
			return nil, "", fmt.Errorf("download %s: %w", source, err)
		}
		return data, indexing.FilenameOf(u.Path), nil
	}

	path, err := w.allowedPath(source)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	data, err := readLimited(f, limit)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, filepath.Base(path), nil
}

func (w *Worker) allowedPath(source string) (string, error) {
	path, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}
	if w.cfg.UploadDir == "" {
		return path, nil
	}
	root, err := filepath.Abs(w.cfg.UploadDir)
	if err != nil {
		return "", fmt.Errorf("resolve upload dir: %w", err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrSourceNotAllowed, source, w.cfg.UploadDir)
	}
	return path, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("source exceeds %d bytes", limit)
	}
	return data, nil
}
