package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Fal queue provider.
	FalAPIKey  string
	FalBaseURL string

	// Vertex long-running-operation provider.
	GoogleProjectID          string
	GoogleLocation           string
	GoogleServiceAccountJSON string
	VeoModelID               string

	// Gemini captioner (semantic remix).
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Asset storage. When S3Bucket is empty the local file store is used.
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	RedisAddr      string
	GeoIPDBPath    string
	JaegerEndpoint string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Provider credentials are validated fail-fast when
// the owning provider is enabled.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		FalAPIKey:  os.Getenv("FAL_API_KEY"),
		FalBaseURL: getEnv("FAL_BASE_URL", "https://queue.fal.run/fal-ai"),

		GoogleProjectID:          os.Getenv("GOOGLE_PROJECT_ID"),
		GoogleLocation:           getEnv("GOOGLE_LOCATION", "us-central1"),
		GoogleServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		VeoModelID:               os.Getenv("VEO_MODEL_ID"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 660)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.FalAPIKey == "" {
		return nil, fmt.Errorf("FAL_API_KEY is required")
	}
	if cfg.VertexEnabled() {
		if cfg.GoogleProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_PROJECT_ID is required when GOOGLE_SERVICE_ACCOUNT_JSON is set")
		}
		var probe map[string]any
		if err := json.Unmarshal([]byte(cfg.GoogleServiceAccountJSON), &probe); err != nil {
			return nil, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is not valid JSON: %w", err)
		}
	}
	if cfg.S3Bucket != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_BUCKET is set")
	}

	return cfg, nil
}

// VertexEnabled reports whether the Vertex video provider is configured.
func (c *Config) VertexEnabled() bool {
	return c.GoogleServiceAccountJSON != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
