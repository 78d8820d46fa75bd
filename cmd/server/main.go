package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/ragingest/internal/api"
	"github.com/dgallion1/ragingest/internal/artifact"
	"github.com/dgallion1/ragingest/internal/caption"
	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/config"
	"github.com/dgallion1/ragingest/internal/confluence"
	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage and embeddings.
	st, gemini, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var embedder embed.Embedder
	if gemini != nil {
		embedder = gemini
		defer gemini.Close()
	}

	sink, err := openSink(ctx, cfg)
	if err != nil {
		log.Error("open artifact sink", "error", err)
		os.Exit(1)
	}

	var claude *caption.ClaudeClient
	if cfg.AnthropicAPIKey != "" {
		claude = caption.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		defer claude.Close()
	}

	crawler := crawl.New(cfg.OutputDir, chunker.Config{
		MaxTokens:            cfg.ChunkingMaxTokens,
		MergePeers:           cfg.ConfluenceMergePeers,
		IncludeHeadingInText: cfg.IncludeHeadingInText,
	}, log, confluence.WithMinInterval(cfg.RateLimitDelay))
	if cfg.CaptionImages && claude != nil {
		crawler.Captioner = claude
	}

	// Initialize pipeline.
	worker := pipeline.NewWorker(pipeline.WorkerConfig{
		TokenBudget:          cfg.ChunkingMaxTokens,
		IncludeHeadingInText: cfg.IncludeHeadingInText,
		ExportAll:            cfg.ExportAllArtifacts,
		UploadDir:            cfg.UploadDir,
		MaxSourceBytes:       cfg.MaxUploadBytes,
	}, st, embedder, sink, crawler, log)
	orch := pipeline.NewOrchestrator(worker, cfg.WorkerCount, cfg.MaxQueueSize, cfg.JobTTL, log)
	orch.Start(ctx)

	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Store:        st,
		Embedder:     embedder,
		Crawler:      crawler,
		Claude:       claude,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous crawls
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ragingest", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		orch.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore picks pgvector with Gemini embeddings when DATABASE_URL is set,
// and a local bleve index otherwise. The returned embedder is nil for bleve.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, *embed.GeminiEmbedder, error) {
	if cfg.DatabaseURL == "" {
		log.Info("using local bleve index", "path", cfg.BleveIndexPath)
		st, err := store.OpenBleve(cfg.BleveIndexPath)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}

	embedder, err := embed.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.OpenPG(ctx, cfg.DatabaseURL, embedder.Dimensions())
	if err != nil {
		embedder.Close()
		return nil, nil, err
	}
	log.Info("using pgvector store", "model", cfg.EmbeddingModel, "dimensions", embedder.Dimensions())
	return st, embedder, nil
}

func openSink(ctx context.Context, cfg config.Config) (artifact.Sink, error) {
	if cfg.S3Bucket == "" {
		return artifact.DirSink{Root: cfg.OutputDir}, nil
	}
	return artifact.NewS3Sink(ctx, artifact.S3Config{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3Prefix,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
}
