package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Blob      BlobConfig      `yaml:"blob"`
	KeyPool   KeyPoolConfig   `yaml:"keyPool"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// PostgresConfig contains DSN and pooling settings for the chunk/job/cache store (C3/C4/C9).
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// BlobConfig configures the S3/R2-compatible file store the ingestion
// pipeline reads uploaded bytes from (§6 File store).
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSsl"`
}

// KeyPoolConfig lists the embedding/LLM provider credentials and their
// configured per-key RPM, plus the Key Pool's (C1) health-tracking knobs.
type KeyPoolConfig struct {
	Keys                        []KeyConfig `yaml:"keys"`
	CooldownSeconds             int         `yaml:"cooldownSeconds"`
	ConsecutiveFailureThreshold int         `yaml:"consecutiveFailureThreshold"`
	AcquireTimeoutSeconds       int         `yaml:"acquireTimeoutSeconds"`
	BackgroundAcquireTimeoutMin int         `yaml:"backgroundAcquireTimeoutMinutes"`
}

// KeyConfig is one provider credential and its configured rate limit.
type KeyConfig struct {
	ID     string `yaml:"id"`
	APIKey string `yaml:"apiKey"`
	RPM    int    `yaml:"rpm"`
}

// EmbeddingConfig mirrors spec §6's embedding.* configuration surface.
type EmbeddingConfig struct {
	BatchSize    int    `yaml:"batchSize"`
	UseBatchAPI  bool   `yaml:"useBatchApi"`
	Dimension    int    `yaml:"dimension"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"baseUrl"`
	CallTimeoutS int    `yaml:"callTimeoutSeconds"`
}

// SweeperConfig mirrors spec §6's sweeper.* configuration surface.
type SweeperConfig struct {
	IntervalMS      int `yaml:"intervalMs"`
	MaxChunksPerRun int `yaml:"maxChunksPerRun"`
	BatchSize       int `yaml:"batchSize"`
	BatchSleepMS    int `yaml:"batchSleepMs"`
}

// IngestionConfig mirrors spec §6's ingestion.* configuration surface.
type IngestionConfig struct {
	WorkerPoolSize int `yaml:"workerPoolSize"`
	LeaseSeconds   int `yaml:"leaseSeconds"`
	MaxAttempts    int `yaml:"maxAttempts"`
	PollSeconds    int `yaml:"pollSeconds"`
}

// RetrievalConfig mirrors spec §6's retrieval.* configuration surface.
type RetrievalConfig struct {
	MaxChunks            int     `yaml:"maxChunks"`
	TargetChunks         int     `yaml:"targetChunks"`
	RRFK                 int     `yaml:"rrfK"`
	MaxChunksPerDocument int     `yaml:"maxChunksPerDocument"`
	MaxChunksPerSection  int     `yaml:"maxChunksPerSection"`
	MinScore             float64 `yaml:"minScore"`
}

// LLMConfig mirrors spec §6's llm.* configuration surface plus provider
// settings for generation (separate model from embedding, same key pool).
type LLMConfig struct {
	Model                string `yaml:"model"`
	BaseURL              string `yaml:"baseUrl"`
	SingleCallTokenLimit int    `yaml:"singleCallTokenLimit"`
	MapBatchTokenLimit   int    `yaml:"mapBatchTokenLimit"`
	MaxParallelMap       int    `yaml:"maxParallelMap"`
	MaxReduceIterations  int    `yaml:"maxReduceIterations"`
	MaxOutputTokens      int    `yaml:"maxOutputTokens"`
	TimeoutSeconds       int    `yaml:"timeoutSeconds"`
}

// CacheConfig mirrors spec §6's cache.* configuration surface.
type CacheConfig struct {
	TTLSeconds        int         `yaml:"ttlSeconds"`
	SemanticThreshold float64     `yaml:"semanticThreshold"`
	LRUSize           int         `yaml:"lruSize"`
	Redis             RedisConfig `yaml:"redis"`
}

// RedisConfig optionally fronts the exact-hash cache lookup with a
// Valkey-compatible in-memory store ahead of Postgres.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		cfg.Blob.Endpoint = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		cfg.Blob.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		cfg.Blob.SecretKey = v
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
	}
	if v := os.Getenv("BLOB_REGION"); v != "" {
		cfg.Blob.Region = v
	}
	if v := os.Getenv("BLOB_USE_SSL"); v != "" {
		cfg.Blob.UseSSL = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("KEYPOOL_KEYS"); v != "" {
		cfg.KeyPool.Keys = parseKeySpecs(v)
	}
	if v := os.Getenv("KEYPOOL_COOLDOWN_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.KeyPool.CooldownSeconds = parsed
		}
	}
	if v := os.Getenv("KEYPOOL_CONSECUTIVE_FAILURE_THRESHOLD"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.KeyPool.ConsecutiveFailureThreshold = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchSize = parsed
		}
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SWEEPER_INTERVAL_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Sweeper.IntervalMS = parsed
		}
	}
	if v := os.Getenv("INGESTION_WORKER_POOL_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.WorkerPoolSize = parsed
		}
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = parsed
		}
	}
	if v := os.Getenv("CACHE_SEMANTIC_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cache.SemanticThreshold = parsed
		}
	}
	if v := os.Getenv("CACHE_REDIS_ENABLED"); v != "" {
		cfg.Cache.Redis.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
}

// parseKeySpecs parses "id:apiKey:rpm,id2:apiKey2:rpm2" into KeyConfig entries.
func parseKeySpecs(raw string) []KeyConfig {
	var out []KeyConfig
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			continue
		}
		rpm, _ := strconv.Atoi(parts[2])
		out = append(out, KeyConfig{ID: parts[0], APIKey: parts[1], RPM: rpm})
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:        ":8080",
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude:     []string{"/api/v1/query"},
			},
		},
		Postgres: PostgresConfig{MaxConns: 10, MinConns: 2},
		Blob:     BlobConfig{},
		KeyPool: KeyPoolConfig{
			CooldownSeconds:             120,
			ConsecutiveFailureThreshold: 3,
			AcquireTimeoutSeconds:       30,
			BackgroundAcquireTimeoutMin: 5,
		},
		Embedding: EmbeddingConfig{
			BatchSize:    100,
			UseBatchAPI:  true,
			Dimension:    768,
			Model:        "text-embedding-3-small",
			CallTimeoutS: 30,
		},
		Sweeper: SweeperConfig{
			IntervalMS:      5000,
			MaxChunksPerRun: 500,
			BatchSize:       100,
			BatchSleepMS:    1000,
		},
		Ingestion: IngestionConfig{
			WorkerPoolSize: 10,
			LeaseSeconds:   300,
			MaxAttempts:    3,
			PollSeconds:    3,
		},
		Retrieval: RetrievalConfig{
			MaxChunks:            100,
			TargetChunks:         30,
			RRFK:                 60,
			MaxChunksPerDocument: 0, // derived: max(5, MaxChunks/4)
			MaxChunksPerSection:  3,
			MinScore:             0.1,
		},
		LLM: LLMConfig{
			Model:                "gpt-4o-mini",
			SingleCallTokenLimit: 100000,
			MapBatchTokenLimit:   25000,
			MaxParallelMap:       5,
			MaxReduceIterations:  3,
			MaxOutputTokens:      8192,
			TimeoutSeconds:       60,
		},
		Cache: CacheConfig{
			TTLSeconds:        86400,
			SemanticThreshold: 0.95,
			LRUSize:           512,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn cannot be empty")
	}
	if len(c.KeyPool.Keys) == 0 {
		return errors.New("keyPool.keys must list at least one provider credential")
	}
	for _, k := range c.KeyPool.Keys {
		if strings.TrimSpace(k.ID) == "" || strings.TrimSpace(k.APIKey) == "" {
			return errors.New("keyPool.keys entries require both id and apiKey")
		}
	}
	if c.Embedding.Dimension <= 0 {
		return errors.New("embedding.dimension must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		return errors.New("embedding.batchSize must be positive")
	}
	if c.Ingestion.WorkerPoolSize <= 0 {
		return errors.New("ingestion.workerPoolSize must be positive")
	}
	if c.LLM.SingleCallTokenLimit <= 0 {
		return errors.New("llm.singleCallTokenLimit must be positive")
	}
	if c.Cache.SemanticThreshold <= 0 || c.Cache.SemanticThreshold > 1 {
		return errors.New("cache.semanticThreshold must be in (0,1]")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
