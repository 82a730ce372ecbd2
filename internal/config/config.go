package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, worker and integrity tooling.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	LLMAPIKey             string
	LLMBaseURL            string
	LLMAPIStyle           string
	LLMModel              string
	LLMEnrichmentModel    string
	LLMTemperature        float64
	LLMMaxOutputTokens    int
	LLMTimeout            time.Duration
	LLMMaxRetries         int
	LLMRetainRaw          bool
	LLMTimeoutAlertCount  int
	LLMTimeoutAlertWindow time.Duration
	LLMSiteURL            string
	LLMAppName            string
	EnrichmentEnabled     bool

	JobTTL             time.Duration
	JobTerminalGrace   time.Duration
	JobCleanupInterval time.Duration

	ResponseLogCapacity int
	ResponseLogKey      string

	ResultCacheTTL        time.Duration
	ResultCacheMaxEntries int

	RateLimitRPS   float64
	RateLimitBurst int

	AuditLogFormat string

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "bizcase_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "bizcase_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "bizcase_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIStyle:           getEnv("LLM_API_STYLE", "chat_completions"),
		LLMModel:              getEnv("LLM_MODEL", "openai/gpt-4.1"),
		LLMEnrichmentModel:    getEnv("LLM_ENRICHMENT_MODEL", "openai/gpt-4.1-mini"),
		LLMTemperature:        getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxOutputTokens:    getEnvInt("LLM_MAX_OUTPUT_TOKENS", 8000),
		LLMTimeout:            getEnvSeconds("LLM_TIMEOUT_SECONDS", 300*time.Second),
		LLMMaxRetries:         getEnvInt("LLM_MAX_RETRIES", 0),
		LLMRetainRaw:          getEnvBool("LLM_RETAIN_RAW", false),
		LLMTimeoutAlertCount:  getEnvInt("LLM_TIMEOUT_ALERT_THRESHOLD", 3),
		LLMTimeoutAlertWindow: getEnvSeconds("LLM_TIMEOUT_ALERT_WINDOW_SECONDS", 10*time.Minute),
		LLMSiteURL:            getEnv("LLM_SITE_URL", ""),
		LLMAppName:            getEnv("LLM_APP_NAME", "Treasury Business Case Builder"),
		EnrichmentEnabled:     getEnvBool("ENRICHMENT_ENABLED", true),

		JobTTL:             getEnvSeconds("JOB_TTL_SECONDS", time.Hour),
		JobTerminalGrace:   getEnvSeconds("JOB_TERMINAL_GRACE_SECONDS", 5*time.Minute),
		JobCleanupInterval: getEnvSeconds("JOB_CLEANUP_INTERVAL_SECONDS", 10*time.Minute),

		ResponseLogCapacity: getEnvInt("RESPONSE_LOG_CAPACITY", 100),
		ResponseLogKey:      getEnv("RESPONSE_LOG_KEY", "bizcase_response_log"),

		ResultCacheTTL:        getEnvSeconds("RESULT_CACHE_TTL_SECONDS", 15*time.Minute),
		ResultCacheMaxEntries: getEnvInt("RESULT_CACHE_MAX_ENTRIES", 500),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		AuditLogFormat: getEnv("AUDIT_LOG_FORMAT", "json"),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvSeconds reads an integer number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	seconds := getEnvInt(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
