// Package crawl walks a Confluence page tree and turns every page into text
// and image chunks that reference each other.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/confluence"
	"github.com/dgallion1/ragingest/internal/parser"
)

// ErrInvalidInput is returned for requests rejected before any fetch.
var ErrInvalidInput = errors.New("invalid input")

const (
	rootParentTitle = "ROOT"
	unknownSpace    = "UNKNOWN"
)

var pageIDPattern = regexp.MustCompile(`pages/(\d+)`)

// Request describes one crawl. MaxDepth -1 means unlimited.
type Request struct {
	URL       string `json:"url"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	Recursive bool   `json:"recursive"`
	MaxDepth  int    `json:"max_depth"`
}

// Result is the aggregated output of a crawl, text chunks of each page
// followed by its image chunks.
type Result struct {
	TotalChunks    int      `json:"total_chunks"`
	PagesProcessed int      `json:"pages_processed"`
	Chunks         []Record `json:"chunks"`
}

// Fetcher is the part of the Confluence client the crawler uses.
type Fetcher interface {
	FetchPageWithChildren(ctx context.Context, pageID string) (*confluence.Page, error)
	Download(ctx context.Context, rawURL, dest string) error
}

// Captioner describes an image given a prompt.
type Captioner interface {
	Describe(ctx context.Context, img []byte, prompt string) (string, error)
}

// Crawler holds the settings shared by all crawls.
type Crawler struct {
	OutputDir string
	Chunking  chunker.Config
	// NewFetcher builds a client for one crawl's site and credentials.
	NewFetcher func(baseURL, username, token string) Fetcher
	Captioner  Captioner
	NewImageID func() string
	Log        *slog.Logger
}

// New returns a crawler that talks to Confluence over HTTP.
func New(outputDir string, chunking chunker.Config, log *slog.Logger, opts ...confluence.Option) *Crawler {
	if log == nil {
		log = slog.Default()
	}
	return &Crawler{
		OutputDir: outputDir,
		Chunking:  chunking,
		NewFetcher: func(baseURL, username, token string) Fetcher {
			return confluence.NewClient(baseURL, username, token, append([]confluence.Option{confluence.WithLogger(log)}, opts...)...)
		},
		Log: log,
	}
}

// ParseRootURL extracts the wiki base URL and the root page id.
func ParseRootURL(raw string) (baseURL, pageID string, err error) {
	m := pageIDPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fmt.Errorf("%w: no page id in %q", ErrInvalidInput, raw)
	}
	head, _, _ := strings.Cut(raw, "/wiki/")
	return strings.TrimRight(head, "/") + "/wiki", m[1], nil
}

type frontier struct {
	pageID      string
	depth       int
	parentTitle string
}

// Crawl processes the page tree rooted at req.URL breadth first. Pages that
// cannot be fetched are logged and skipped along with their subtree.
func (c *Crawler) Crawl(ctx context.Context, req Request) (*Result, error) {
	baseURL, rootID, err := ParseRootURL(req.URL)
	if err != nil {
		return nil, err
	}
	if req.Username == "" || req.Token == "" {
		return nil, fmt.Errorf("%w: username and token are required", ErrInvalidInput)
	}

	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	imageDir := filepath.Join(c.OutputDir, "images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	fetcher := c.NewFetcher(baseURL, req.Username, req.Token)
	res := &Result{Chunks: []Record{}}
	queue := []frontier{{pageID: rootID, depth: 0, parentTitle: rootParentTitle}}

	log.Info("crawl started", "root", rootID, "recursive", req.Recursive, "max_depth", req.MaxDepth)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]

		if req.MaxDepth != -1 && item.depth > req.MaxDepth {
			continue
		}
		plog := log.With("page_id", item.pageID, "depth", item.depth)

		page, err := fetcher.FetchPageWithChildren(ctx, item.pageID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			plog.Warn("page fetch failed, skipping subtree", "error", err)
			continue
		}
		if page == nil {
			plog.Warn("empty page payload, skipping subtree")
			continue
		}

		space := page.SpaceKey
		if space == "" {
			space = unknownSpace
		}
		meta := PageMetadata{
			PageID:      item.pageID,
			PageTitle:   page.Title,
			ParentTitle: item.parentTitle,
			PageURL:     fmt.Sprintf("%s/spaces/%s/pages/%s", baseURL, space, item.pageID),
			PageDepth:   item.depth,
		}

		records, err := c.processPage(ctx, fetcher, page, meta, baseURL, imageDir, plog)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			plog.Warn("page processing failed, skipping", "error", err)
			continue
		}
		res.Chunks = append(res.Chunks, records...)
		res.PagesProcessed++
		plog.Info("page processed", "chunks", len(records), "children", len(page.Children))

		if req.Recursive && (req.MaxDepth == -1 || item.depth+1 <= req.MaxDepth) {
			for _, child := range page.Children {
				queue = append(queue, frontier{pageID: child, depth: item.depth + 1, parentTitle: page.Title})
			}
		}
	}
	res.TotalChunks = len(res.Chunks)
	log.Info("crawl finished", "pages", res.PagesProcessed, "chunks", res.TotalChunks)
	return res, nil
}

func (c *Crawler) processPage(ctx context.Context, f Fetcher, page *confluence.Page, meta PageMetadata, baseURL, imageDir string, log *slog.Logger) ([]Record, error) {
	pre := &Preprocessor{BaseURL: baseURL, ImageDir: imageDir, NewID: c.NewImageID}
	body, images, err := pre.Process(page.BodyHTML, meta.PageID)
	if err != nil {
		return nil, err
	}

	doc, err := (&parser.HTMLParser{}).Parse(strings.NewReader(body), meta.PageID+".html")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", parser.ErrConversion, err)
	}
	chunks := chunker.Segment(doc, c.Chunking)
	texts := Backfill(chunks, images, meta)

	records := make([]Record, 0, len(texts)+len(images))
	for _, t := range texts {
		records = append(records, t)
	}
	for _, img := range images {
		c.finalizeImage(ctx, f, img, meta, log)
		records = append(records, img)
	}
	return records, nil
}

// finalizeImage downloads the image and, when a captioner is set, describes it.
// Failures are logged and leave the chunk without a description.
func (c *Crawler) finalizeImage(ctx context.Context, f Fetcher, img *ImageChunk, meta PageMetadata, log *slog.Logger) {
	pm := meta
	img.PageMetadata = &pm

	if err := f.Download(ctx, img.ImageURL, img.LocalPath); err != nil {
		log.Warn("image download failed", "chunk_id", img.ID, "url", img.ImageURL, "error", err)
		return
	}
	if c.Captioner == nil {
		return
	}
	data, err := os.ReadFile(img.LocalPath)
	if err != nil {
		log.Warn("read downloaded image", "chunk_id", img.ID, "error", err)
		return
	}
	desc, err := c.Captioner.Describe(ctx, data, img.LLMPrompt)
	if err != nil {
		log.Warn("image caption failed", "chunk_id", img.ID, "error", err)
		return
	}
	img.LLMDescription = &desc
}
