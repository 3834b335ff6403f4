// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Job Store
	DatabaseURL string

	// Queue + Event Bus
	RedisURL string

	// Authentication
	AuthSecret    string // HMAC/JWT secret for bearer verification
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption of stored provider keys

	// Blob Store (S3-compatible: Tigris, MinIO, AWS)
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// CORS
	CORSOrigins []string

	// Submission API
	MaxUploadBytes int64 // default 50 MiB, spec §4.1

	// Worker
	WorkerConcurrency         int           // number of concurrent job processors
	WorkerPollInterval        time.Duration // loaded from WORKER_POLL_INTERVAL; not read by the worker
	WorkerMaxAttempts         int           // default max attempts for a job before permanent failure
	WorkerBackoffBase         time.Duration // initial requeue backoff
	WorkerBackoffMax          time.Duration // requeue backoff ceiling
	WorkerShutdownGracePeriod time.Duration // max time to wait for running jobs during shutdown
	WorkerStaleJobMaxAge      time.Duration // age past which a running job is presumed crashed

	// Realtime Gateway
	RealtimeKeepAlive time.Duration // keepalive cadence, must stay <=30s per spec §4.4

	// Client Waiter (SDK side)
	ClientWaiterMaxAttempts int
	ClientWaiterBackoff     time.Duration

	// OCR collaborator
	OCREndpoint string

	// LLM providers
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Supplemental terminal webhook notification
	WebhookSigningSecret string

	// Idle shutdown (scale-to-zero)
	IdleTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:ocrbase.db?_journal=WAL&_timeout=5000"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		AuthSecret: getEnv("AUTH_SECRET", ""),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 50*1024*1024)),

		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		WorkerPollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerMaxAttempts:         getEnvInt("WORKER_MAX_ATTEMPTS", 3),
		WorkerBackoffBase:         getEnvDuration("WORKER_BACKOFF_BASE", 2*time.Second),
		WorkerBackoffMax:          getEnvDuration("WORKER_BACKOFF_MAX", 2*time.Minute),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),
		WorkerStaleJobMaxAge:      getEnvDuration("WORKER_STALE_JOB_MAX_AGE", time.Hour),

		RealtimeKeepAlive: getEnvDuration("REALTIME_KEEPALIVE", 20*time.Second),

		ClientWaiterMaxAttempts: getEnvInt("CLIENT_WAITER_MAX_ATTEMPTS", 5),
		ClientWaiterBackoff:     getEnvDuration("CLIENT_WAITER_BACKOFF", 2*time.Second),

		OCREndpoint: getEnv("OCR_ENDPOINT", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		WebhookSigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if cfg.RealtimeKeepAlive > 30*time.Second {
		cfg.RealtimeKeepAlive = 30 * time.Second
	}

	if cfg.AuthSecret == "" {
		cfg.AuthSecret = generateRandomSecret(64)
	}

	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.AuthSecret)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "ocrbase-secret-change-me-" + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using HKDF.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("ocrbase-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
