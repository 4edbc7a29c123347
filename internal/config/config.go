package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	HTTPPort        string `validate:"required,numeric"`
	LogLevel        string
	LogFormat       string `validate:"oneof=console json"`
	DefaultCurrency string `validate:"len=3"`
	ProcessingMode  string `validate:"oneof=inline async"`

	Store   StoreConfig
	Storage StorageConfig
	LLM     LLMConfig
	OCR     OCRConfig
	Queue   QueueConfig
	Sweep   SweepConfig
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver          string `validate:"oneof=sqlite mysql postgres bigquery"`
	DSN             string `validate:"required_unless=Driver bigquery"`
	BigQueryProject string `validate:"required_if=Driver bigquery"`
	BigQueryDataset string `validate:"required_if=Driver bigquery"`

	MaxOpenConns    int           `validate:"gte=0"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
	ConnMaxIdleTime time.Duration `validate:"gte=0"`
}

// StorageConfig selects the object storage backend.
type StorageConfig struct {
	Provider       string `validate:"oneof=gcs minio"`
	Bucket         string `validate:"required"`
	URLTTL         time.Duration
	MinioEndpoint  string `validate:"required_if=Provider minio"`
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioUseSSL    bool
}

// LLMConfig selects the invoice analysis backend.
type LLMConfig struct {
	Provider        string        `validate:"oneof=gemini openai"`
	Timeout         time.Duration `validate:"gt=0"`
	GeminiModel     string
	OpenAIAPIKey    string `validate:"required_if=Provider openai"`
	OpenAIModel     string
	OpenAIMaxTokens int `validate:"gte=0"`
}

// OCRConfig tunes the Tesseract engine.
type OCRConfig struct {
	Language string  `validate:"required"`
	PDFDPI   float64 `validate:"gt=0"`
	DataPath string
}

// QueueConfig selects the job queue used in async mode.
type QueueConfig struct {
	Backend      string `validate:"oneof=memory pubsub"`
	ProjectID    string `validate:"required_if=Backend pubsub"`
	Topic        string `validate:"required_if=Backend pubsub"`
	Subscription string `validate:"required_if=Backend pubsub"`
	BufferSize   int    `validate:"gt=0"`
}

// SweepConfig controls the stale PROCESSING record sweep.
type SweepConfig struct {
	Schedule     string        `validate:"required"`
	StaleAfter   time.Duration `validate:"gt=0"`
	RedisAddress string
	RedisDB      int
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "console")),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		ProcessingMode:  strings.ToLower(getEnv("PROCESSING_MODE", "inline")),
		Store: StoreConfig{
			Driver:          strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DSN:             getEnv("DATABASE_DSN", "file:expense-ingest.db"),
			BigQueryProject: os.Getenv("BIGQUERY_PROJECT"),
			BigQueryDataset: getEnv("BIGQUERY_DATASET", "finance"),
		},
		Storage: StorageConfig{
			Provider:       strings.ToLower(getEnv("STORAGE_PROVIDER", "gcs")),
			Bucket:         os.Getenv("STORAGE_BUCKET"),
			MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinioRegion:    os.Getenv("MINIO_REGION"),
		},
		LLM: LLMConfig{
			Provider:     strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),
		},
		OCR: OCRConfig{
			Language: getEnv("OCR_LANGUAGE", "eng"),
			DataPath: os.Getenv("TESSDATA_PREFIX"),
		},
		Queue: QueueConfig{
			Backend:      strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
			Topic:        os.Getenv("PUBSUB_TOPIC"),
			Subscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		},
		Sweep: SweepConfig{
			Schedule:     getEnv("SWEEP_SCHEDULE", "@every 15m"),
			RedisAddress: os.Getenv("REDIS_ADDRESS"),
		},
	}

	var err error
	if cfg.Storage.URLTTL, err = getDuration("STORAGE_URL_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Storage.MinioUseSSL, err = getBool("MINIO_USE_SSL", true); err != nil {
		return nil, err
	}
	if cfg.LLM.Timeout, err = getDuration("LLM_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLM.OpenAIMaxTokens, err = getInt("OPENAI_MAX_TOKENS", 1000); err != nil {
		return nil, err
	}
	if cfg.OCR.PDFDPI, err = getFloat("OCR_PDF_DPI", 300); err != nil {
		return nil, err
	}
	if cfg.Queue.BufferSize, err = getInt("QUEUE_BUFFER_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.Store.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 50); err != nil {
		return nil, err
	}
	if cfg.Store.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.Store.ConnMaxLifetime, err = getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Store.ConnMaxIdleTime, err = getDuration("DB_CONN_MAX_IDLE_TIME", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Sweep.StaleAfter, err = getDuration("SWEEP_STALE_AFTER", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Sweep.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("Config.Validate: %w", err)
	}
	return nil
}

// Async reports whether OCR and analysis run on a worker.
func (c *Config) Async() bool {
	return c.ProcessingMode == "async"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
