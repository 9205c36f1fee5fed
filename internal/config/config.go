package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stages"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendPostgres = "postgres"
	VectorBackendWeaviate = "weaviate"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"olala"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"olala"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"postgres"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	EventsEnabled bool   `envconfig:"EVENTS_ENABLED" default:"false"`
	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableBackfillWorker bool   `envconfig:"ENABLE_BACKFILL_WORKER" default:"false"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel    string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiGenerateModel string `envconfig:"GEMINI_GENERATE_MODEL" default:"gemini-2.5-flash"`
	EmbedDim            int    `envconfig:"EMBED_DIM" default:"768"`

	RerankProvider string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey   string `envconfig:"RERANK_API_KEY"`

	SearchAPIKey   string `envconfig:"SEARCH_API_KEY"`
	SearchEngineID string `envconfig:"SEARCH_ENGINE_ID"`
	SearchResults  int    `envconfig:"SEARCH_RESULTS" default:"3"`

	// Retrieval defaults
	TopK                  int     `envconfig:"TOP_K" default:"8"`
	Window                int     `envconfig:"WINDOW" default:"1"`
	PageLimit             int     `envconfig:"PAGE_LIMIT" default:"8"`
	EmbedMissing          bool    `envconfig:"EMBED_MISSING" default:"true"`
	EmbedMissingCap       int     `envconfig:"EMBED_MISSING_CAP" default:"300"`
	EmbedBatchSize        int     `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	MaxContextChars       int     `envconfig:"MAX_CONTEXT_CHARS" default:"6000"`
	TitleSimilarityFloor  float64 `envconfig:"TITLE_SIMILARITY_FLOOR" default:"0.3"`
	FallbackChunksPerPage int     `envconfig:"FALLBACK_CHUNKS_PER_PAGE" default:"80"`
	FallbackMaxPages      int     `envconfig:"FALLBACK_MAX_PAGES" default:"20"`
	Oversample            int     `envconfig:"OVERSAMPLE" default:"3"`
	WeightVec             float64 `envconfig:"W_VEC" default:"0.6"`
	WeightFTS             float64 `envconfig:"W_FTS" default:"0.2"`
	WeightTitle           float64 `envconfig:"W_TITLE" default:"0.1"`
	WeightLex             float64 `envconfig:"W_LEX" default:"0.1"`
	QueryLogPath          string  `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Pipeline
	StageTimeout         time.Duration `envconfig:"STAGE_TIMEOUT" default:"30s"`
	VerificationTimeout  time.Duration `envconfig:"VERIFICATION_TIMEOUT" default:"60s"`
	JudgmentTimeout      time.Duration `envconfig:"JUDGMENT_TIMEOUT" default:"60s"`
	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5s"`
	StreamBuffer         int           `envconfig:"STREAM_BUFFER" default:"100"`
	RetryAttempts        int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"200ms"`
	SelectK              int           `envconfig:"SELECT_K" default:"6"`
	MaxQueries           int           `envconfig:"MAX_QUERIES" default:"4"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8081"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// env vars set in the shell win over both files
	_ = godotenv.Load(".env")
	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	switch c.VectorBackend {
	case VectorBackendPostgres, VectorBackendWeaviate:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}
	switch c.RerankProvider {
	case "", "none", "jina", "cohere":
	default:
		return fmt.Errorf("%w: RERANK_PROVIDER=%q", ErrInvalidValue, c.RerankProvider)
	}
	if c.TopK <= 0 || c.TopK > pipeline.MaxTopK {
		return fmt.Errorf("%w: TOP_K must be between 1 and %d", ErrInvalidValue, pipeline.MaxTopK)
	}
	if c.EmbedMissingCap < 0 {
		return fmt.Errorf("%w: EMBED_MISSING_CAP must not be negative", ErrInvalidValue)
	}
	if c.EmbedBatchSize < retrieval.MinBatchSize || c.EmbedBatchSize > retrieval.MaxBatchSize {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be between %d and %d", ErrInvalidValue, retrieval.MinBatchSize, retrieval.MaxBatchSize)
	}
	if c.TitleSimilarityFloor < 0 || c.TitleSimilarityFloor > 1 {
		return fmt.Errorf("%w: TITLE_SIMILARITY_FLOOR must be in [0,1]", ErrInvalidValue)
	}
	for name, w := range map[string]float64{"W_VEC": c.WeightVec, "W_FTS": c.WeightFTS, "W_TITLE": c.WeightTitle, "W_LEX": c.WeightLex} {
		if w < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, name)
		}
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("%w: STAGE_TIMEOUT must be positive", ErrInvalidValue)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%w: RETRY_ATTEMPTS must be at least 1", ErrInvalidValue)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

// Retrieval returns the default options of the hybrid retriever.
func (c *Config) Retrieval() retrieval.Options {
	return retrieval.Options{
		TopK:                  c.TopK,
		Window:                c.Window,
		PageLimit:             c.PageLimit,
		EmbedMissing:          c.EmbedMissing,
		EmbedCap:              c.EmbedMissingCap,
		BatchSize:             c.EmbedBatchSize,
		MaxChars:              c.MaxContextChars,
		TitleFloor:            c.TitleSimilarityFloor,
		FallbackChunksPerPage: c.FallbackChunksPerPage,
		FallbackMaxPages:      c.FallbackMaxPages,
		Oversample:            c.Oversample,
		Weights:               retrieval.FusionWeights{Vec: c.WeightVec, FTS: c.WeightFTS, Title: c.WeightTitle, Lex: c.WeightLex},
		SnippetChars:          retrieval.DefaultSnippetChars,
	}
}

func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		StageTimeout: c.StageTimeout,
		StageTimeouts: map[pipeline.StageName]time.Duration{
			pipeline.StageSupportVerification: c.VerificationTimeout,
			pipeline.StageSkepticVerification: c.VerificationTimeout,
			pipeline.StageJudgment:            c.JudgmentTimeout,
		},
		HeartbeatInterval: c.HeartbeatInterval,
	}
}

func (c *Config) Retry() inference.RetryPolicy {
	p := inference.DefaultRetryPolicy()
	p.Attempts = c.RetryAttempts
	if c.RetryInitialInterval > 0 {
		p.InitialInterval = c.RetryInitialInterval
	}
	return p
}

func (c *Config) Stages() stages.Config {
	cfg := stages.DefaultConfig()
	cfg.MaxQueries = c.MaxQueries
	cfg.WebResultsPerQuery = c.SearchResults
	cfg.SelectK = c.SelectK
	cfg.Retry = c.Retry()
	return cfg
}

func (c *Config) BootstrapRetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}
