package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/ragingest/internal/artifact"
	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/confluence"
	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/dgallion1/ragingest/internal/indexing"
	"github.com/dgallion1/ragingest/internal/store"
)

const manual = `# Install

Run the installer and accept the defaults.

# Configure

Edit the configuration file before the first start.
`

type fakeEmbedder struct {
	calls int
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0, 1}, nil
}

func (e *fakeEmbedder) Dimensions() int { return 2 }

func newTestWorker(t *testing.T, embedder *fakeEmbedder, crawler *crawl.Crawler) (*Worker, *store.BleveStore, string) {
	t.Helper()
	st, err := store.NewMemBleve()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	uploads := t.TempDir()
	cfg := WorkerConfig{UploadDir: uploads, MaxSourceBytes: 1 << 20}
	w := NewWorker(cfg, st, nil, artifact.DirSink{Root: t.TempDir()}, crawler, nil)
	if embedder != nil {
		w.embedder = embedder
	}
	return w, st, uploads
}

func writeUpload(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func TestWorker_ProcessDocument(t *testing.T) {
	emb := &fakeEmbedder{}
	w, st, uploads := newTestWorker(t, emb, nil)
	path := writeUpload(t, uploads, "manual.md", manual)

	job := NewDocumentJob(path, "guides", "setup")
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (error %v)", snap.Status, snap.Error)
	}
	if snap.Result.ChunksProcessed == 0 {
		t.Fatal("expected chunks to be processed")
	}
	if snap.Result.DocumentID != indexing.DocumentID(path) {
		t.Errorf("expected document id %q, got %q", indexing.DocumentID(path), snap.Result.DocumentID)
	}
	if emb.calls != 1 {
		t.Errorf("expected one embed call, got %d", emb.calls)
	}

	chunks, err := st.Chunks(context.Background(), snap.Result.DocumentID, 0, 0)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != snap.Result.ChunksProcessed {
		t.Errorf("expected %d stored chunks, got %d", snap.Result.ChunksProcessed, len(chunks))
	}
	if chunks[0].Metadata[indexing.KeyCategory] != "guides" {
		t.Errorf("expected category metadata, got %v", chunks[0].Metadata)
	}
}

func TestWorker_EmbedFailureFailsJob(t *testing.T) {
	w, _, uploads := newTestWorker(t, &fakeEmbedder{err: errors.New("quota")}, nil)
	job := NewDocumentJob(writeUpload(t, uploads, "a.md", manual), "", "")
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Error == nil {
		t.Fatalf("expected failed job with error, got %+v", snap)
	}
}

func TestWorker_RejectsPathOutsideUploads(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, nil)
	outside := writeUpload(t, t.TempDir(), "secret.txt", "x")

	job := NewDocumentJob(outside, "", "")
	w.Process(context.Background(), job)
	if job.Status() != StatusFailed {
		t.Fatalf("expected failed, got %q", job.Status())
	}
	if _, _, err := w.readSource(context.Background(), outside); !errors.Is(err, ErrSourceNotAllowed) {
		t.Errorf("expected ErrSourceNotAllowed, got %v", err)
	}
}

func TestWorker_ExportFailureEndsPartial(t *testing.T) {
	w, _, uploads := newTestWorker(t, &fakeEmbedder{}, nil)
	w.cfg.ExportAll = true
	path := writeUpload(t, uploads, "page.html",
		`<body><p>Intro text</p><figure><img src="data:image/png;base64,aGVsbG8="></figure></body>`)

	job := NewDocumentJob(path, "", "")
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusPartial {
		t.Fatalf("expected partial, got %q (error %v)", snap.Status, snap.Error)
	}
	if snap.Result == nil || snap.Result.ExportErrors != 1 {
		t.Fatalf("expected one export error, got %+v", snap.Result)
	}
	if len(snap.Result.ExportedFiles) != 0 {
		t.Errorf("expected nothing exported, got %v", snap.Result.ExportedFiles)
	}
	if len(snap.Warnings) == 0 {
		t.Error("expected a warning for the skipped export")
	}
}

func TestWorker_UnsupportedFormatFails(t *testing.T) {
	w, _, uploads := newTestWorker(t, nil, nil)
	job := NewDocumentJob(writeUpload(t, uploads, "sheet.xyz", "a,b"), "", "")
	w.Process(context.Background(), job)
	if job.Status() != StatusFailed {
		t.Errorf("expected failed, got %q", job.Status())
	}
}

func TestWorker_URLSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(manual))
	}))
	defer srv.Close()

	w, _, _ := newTestWorker(t, nil, nil)
	job := NewDocumentJob(srv.URL+"/docs/remote.md", "", "")
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (error %v)", snap.Status, snap.Error)
	}
	if snap.Result.Filename != "remote.md" {
		t.Errorf("expected filename %q, got %q", "remote.md", snap.Result.Filename)
	}
}

func TestWorker_SourceTooLarge(t *testing.T) {
	w, _, uploads := newTestWorker(t, nil, nil)
	w.cfg.MaxSourceBytes = 4
	job := NewDocumentJob(writeUpload(t, uploads, "a.txt", "too long"), "", "")
	w.Process(context.Background(), job)
	if job.Status() != StatusFailed {
		t.Errorf("expected failed, got %q", job.Status())
	}
}

func TestWorker_RevokedBeforeStartIsSkipped(t *testing.T) {
	w, st, uploads := newTestWorker(t, nil, nil)
	job := NewDocumentJob(writeUpload(t, uploads, "a.md", manual), "", "")
	job.Revoke()
	w.Process(context.Background(), job)

	if job.Status() != StatusRevoked {
		t.Errorf("expected revoked, got %q", job.Status())
	}
	docs, _ := st.Documents(context.Background())
	if len(docs) != 0 {
		t.Errorf("expected nothing stored, got %v", docs)
	}
}

// blockingFetcher holds the first fetch until released or cancelled.
type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) FetchPageWithChildren(ctx context.Context, id string) (*confluence.Page, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *blockingFetcher) Download(context.Context, string, string) error { return nil }

type treeFetcher struct{}

func (treeFetcher) FetchPageWithChildren(_ context.Context, id string) (*confluence.Page, error) {
	return &confluence.Page{ID: id, Title: "Page " + id, SpaceKey: "ENG", BodyHTML: "<p>hello wiki</p>"}, nil
}

func (treeFetcher) Download(context.Context, string, string) error { return nil }

func testCrawler(t *testing.T, f crawl.Fetcher) *crawl.Crawler {
	c := crawl.New(t.TempDir(), chunker.DefaultConfig(), nil)
	c.NewFetcher = func(string, string, string) crawl.Fetcher { return f }
	return c
}

func TestWorker_ProcessConfluence(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, testCrawler(t, treeFetcher{}))
	job := NewConfluenceJob(crawl.Request{
		URL:      "https://acme.atlassian.net/wiki/spaces/ENG/pages/42/Home",
		Username: "u",
		Token:    "t",
		MaxDepth: -1,
	})
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (error %v)", snap.Status, snap.Error)
	}
	if snap.Result.Crawl == nil || snap.Result.Crawl.PagesProcessed != 1 {
		t.Fatalf("expected one crawled page, got %+v", snap.Result.Crawl)
	}
	if snap.Result.ChunksProcessed != snap.Result.Crawl.TotalChunks {
		t.Errorf("expected chunk count to match crawl, got %d vs %d", snap.Result.ChunksProcessed, snap.Result.Crawl.TotalChunks)
	}
}

func TestWorker_ConfluenceWithoutCrawler(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, nil)
	job := NewConfluenceJob(crawl.Request{URL: "https://a/wiki/pages/1", Username: "u", Token: "t"})
	w.Process(context.Background(), job)
	if job.Status() != StatusFailed {
		t.Errorf("expected failed, got %q", job.Status())
	}
}

func TestOrchestrator_RevokeRunningCrawl(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{})}
	w, _, _ := newTestWorker(t, nil, testCrawler(t, f))
	o := NewOrchestrator(w, 1, 4, time.Hour, nil)
	o.Start(context.Background())
	defer o.Stop()

	job := NewConfluenceJob(crawl.Request{URL: "https://a.net/wiki/spaces/X/pages/7/T", Username: "u", Token: "t"})
	if err := o.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl never started")
	}
	if err := o.Revoke(job.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for o.QueueDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status() != StatusRevoked {
		t.Errorf("expected revoked, got %q", job.Status())
	}
}

func TestOrchestrator_ProcessesSubmittedJob(t *testing.T) {
	w, _, uploads := newTestWorker(t, nil, nil)
	o := NewOrchestrator(w, 2, 4, time.Hour, nil)
	o.Start(context.Background())
	defer o.Stop()

	job := NewDocumentJob(writeUpload(t, uploads, "a.md", manual), "", "")
	if err := o.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.GetJob(job.ID) != job {
		t.Fatal("expected job to be registered")
	}

	deadline := time.Now().Add(10 * time.Second)
	for !job.Status().Terminal() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status() != StatusCompleted {
		t.Errorf("expected completed, got %q", job.Status())
	}
}
