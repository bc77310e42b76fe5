package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Durable form-state slots
	SlotTTL          time.Duration
	SlotKeyPrefix    string
	UseMemorySlots   bool
	SessionIdleSweep time.Duration

	// Visibility signal bus
	FocusCoalesceWindow time.Duration
	BeaconMaxSkew       time.Duration

	// AI protocol generation
	AIProvider         string // "gemini", "bedrock", "auto"
	GeminiAPIKey       string
	GeminiModelID      string
	BedrockModelID     string
	EnrichmentMaxChars int

	// Re-run enrichment queue
	UseMemoryQueue     bool
	EnrichmentQueueURL string
	EnrichmentJobStore string // "postgres" or "dynamodb"
	EnrichmentJobTable string
	WorkerCount        int

	// AWS (Bedrock, SQS, DynamoDB, S3)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Record archive export
	ArchiveBucket  string
	ArchiveEnabled bool

	// Auth
	AuthJWTSecret string

	// Notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AlertEmail        string
	AlertName         string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SlotTTL:          getEnvAsDuration("SLOT_TTL", 7*24*time.Hour),
		SlotKeyPrefix:    getEnv("SLOT_KEY_PREFIX", "anamnesis"),
		UseMemorySlots:   getEnvAsBool("USE_MEMORY_SLOTS", false),
		SessionIdleSweep: getEnvAsDuration("SESSION_IDLE_SWEEP", 24*time.Hour),

		FocusCoalesceWindow: getEnvAsDuration("FOCUS_COALESCE_WINDOW", 2*time.Second),
		BeaconMaxSkew:       getEnvAsDuration("BEACON_MAX_SKEW", 30*time.Second),

		AIProvider:         strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "auto"))),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		EnrichmentMaxChars: getEnvAsInt("ENRICHMENT_MAX_CHARS", 8000),

		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		EnrichmentQueueURL: getEnv("ENRICHMENT_QUEUE_URL", ""),
		EnrichmentJobStore: strings.ToLower(strings.TrimSpace(getEnv("ENRICHMENT_JOB_STORE", "postgres"))),
		EnrichmentJobTable: getEnv("ENRICHMENT_JOB_TABLE", "enrichment_jobs"),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ArchiveBucket:  getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEnabled: getEnvAsBool("ARCHIVE_ENABLED", false),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Anamnesis Platform"),
		AlertEmail:        getEnv("ALERT_EMAIL", ""),
		AlertName:         getEnv("ALERT_NAME", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
