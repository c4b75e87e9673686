package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMO_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMO_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DatabaseURL is the Postgres DSN backing the vector index and the
// relational tables. Required; the server fails fast when unset.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// TimeseriesDatabaseURL is the DSN for the time-partitioned episodic,
// emotional, and snapshot tables. Defaults to DatabaseURL.
func TimeseriesDatabaseURL() string {
	if dsn := os.Getenv("TIMESERIES_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return DatabaseURL()
}

func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Valid values: openai, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func LLMModel() string {
	return os.Getenv("LLM_MODEL")
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func LLMAPIKey() string {
	if LLMProvider() == "mock" {
		return ""
	}
	return OpenAIAPIKey()
}

func EmbeddingAPIKey() string {
	if EmbeddingProvider() == "mock" {
		return ""
	}
	return OpenAIAPIKey()
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// ExtractionConfidenceThreshold is the minimum LLM confidence for an
// extracted memory to be stored.
func ExtractionConfidenceThreshold() float64 {
	return floatEnv("EXTRACTION_CONFIDENCE_THRESHOLD", 0.80)
}

// DedupCosineThreshold is the similarity above which a candidate memory is
// treated as a duplicate of an existing one.
func DedupCosineThreshold() float64 {
	return floatEnv("DEDUP_COSINE_THRESHOLD", 0.80)
}

func MaxInjectionsPerTurn() int {
	return intEnv("MAX_INJECTIONS_PER_TURN", 3)
}

func ProfileQuestionCooldown() time.Duration {
	return time.Duration(intEnv("PROFILE_QUESTION_COOLDOWN_HOURS", 24)) * time.Hour
}

// CompactionHalfLife is the importance-decay half-life used by compaction.
func CompactionHalfLife() time.Duration {
	return time.Duration(intEnv("COMPACTION_HALF_LIFE_DAYS", 60)) * 24 * time.Hour
}

func DailyCompactionEnabled() bool {
	return os.Getenv("DAILY_COMPACTION_ENABLED") == "true"
}

func IntentsMaxPerUser() int {
	return intEnv("INTENTS_MAX_PER_USER", 25)
}

func ClaimTimeout() time.Duration {
	return time.Duration(intEnv("CLAIM_TIMEOUT_MINUTES", 5)) * time.Minute
}

func ShortTermTTL() time.Duration {
	return time.Duration(intEnv("SHORT_TERM_TTL_SECONDS", 3600)) * time.Second
}

// RateLimitRPS returns requests per second limit.
func RateLimitRPS() float64 {
	rps := floatEnv("RATE_LIMIT_RPS", 100)
	if rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
func RateLimitBurst() int {
	burst := intEnv("RATE_LIMIT_BURST", 20)
	if burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
