package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth
	APIKey      string
	CORSOrigins []string

	// Storage locations
	OutputDir string
	UploadDir string

	// Upload limits
	MaxUploadBytes int64

	// Worker pool
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Chunking
	ChunkingMaxTokens    int
	IncludeHeadingInText bool
	ExportAllArtifacts   bool

	// Confluence
	RateLimitDelay       time.Duration
	ConfluenceMergePeers bool

	// Vector store. Without DATABASE_URL chunks go to a local bleve index.
	DatabaseURL    string
	BleveIndexPath string

	// Embeddings
	GeminiAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Image captions
	AnthropicAPIKey string
	AnthropicModel  string
	CaptionImages   bool

	// S3 artifact sink. Without S3_BUCKET artifacts are written under OutputDir.
	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

// Load reads the environment, after loading an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8000"),

		APIKey:      os.Getenv("API_KEY"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		OutputDir: envOr("OUTPUT_DIR", "./outputs"),
		UploadDir: envOr("UPLOAD_DIR", "./uploads"),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),
		JobTTL:       envDuration("JOB_TTL", 24*time.Hour),

		ChunkingMaxTokens:    envInt("CHUNKING_MAX_TOKENS", 8191),
		IncludeHeadingInText: envBool("INCLUDE_HEADING_IN_TEXT", true),
		ExportAllArtifacts:   envBool("EXPORT_ALL_ARTIFACTS", false),

		RateLimitDelay:       envSeconds("RATE_LIMIT_DELAY", 1500*time.Millisecond),
		ConfluenceMergePeers: envBool("CONFLUENCE_MERGE_PEERS", false),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		BleveIndexPath: envOr("BLEVE_INDEX_PATH", "./data/chunks.bleve"),

		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		EmbeddingModel:      envOr("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		CaptionImages:   envBool("CAPTION_IMAGES", false),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3Prefix:    os.Getenv("S3_PREFIX"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.ChunkingMaxTokens <= 0 {
		cfg.ChunkingMaxTokens = 8191
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	if cfg.RateLimitDelay < 0 {
		cfg.RateLimitDelay = 1500 * time.Millisecond
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = 768
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DatabaseURL != "" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when DATABASE_URL is set")
	}
	if c.CaptionImages && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when CAPTION_IMAGES is enabled")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	if c.OutputDir == "" || c.UploadDir == "" {
		return fmt.Errorf("OUTPUT_DIR and UPLOAD_DIR must not be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSeconds reads a duration given as fractional seconds ("1.5"), or as a
// Go duration string ("1500ms").
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return envDuration(key, fallback)
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
