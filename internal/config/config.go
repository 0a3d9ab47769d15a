package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by ARBITER_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("ARBITER_ENV")
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

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// AssessmentProvider returns the configured assessment model provider.
// Defaults to "openai" if not set. Valid values: openai, mock
func AssessmentProvider() string {
	p := os.Getenv("ASSESSMENT_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// AssessmentModel returns the model name for the assessment provider, or
// empty to use the provider default.
func AssessmentModel() string {
	return os.Getenv("ASSESSMENT_MODEL")
}

// EnsembleMethod returns the default deliberation combination rule.
// Valid values: weighted_vote, bayesian, max_confidence
func EnsembleMethod() string {
	m := os.Getenv("ENSEMBLE_METHOD")
	if m == "" {
		return "weighted_vote"
	}
	return m
}

// MaxSources returns the evidence corpus cap per resolution.
// Defaults to 10 if not set.
func MaxSources() int {
	n, err := strconv.Atoi(os.Getenv("MAX_SOURCES"))
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

// RetrievalCacheTTL returns how long retrieved evidence stays cached.
// Defaults to 5 minutes if not set.
func RetrievalCacheTTL() time.Duration {
	d, err := time.ParseDuration(os.Getenv("RETRIEVAL_CACHE_TTL"))
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// MaintenanceInterval returns the background sweep cadence.
// Defaults to 5 minutes if not set.
func MaintenanceInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("MAINTENANCE_INTERVAL"))
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// APIKey returns the bearer token required on /v1 routes.
// Empty disables authentication (local development only).
func APIKey() string {
	return os.Getenv("API_KEY")
}

// SearchAPIURL returns the base URL of the evidence search service.
func SearchAPIURL() string {
	return os.Getenv("SEARCH_API_URL")
}

func SearchAPIKey() string {
	return os.Getenv("SEARCH_API_KEY")
}

// LedgerURL returns the base URL of the settlement ledger service.
// Empty wires a no-op ledger that only logs bond movements.
func LedgerURL() string {
	return os.Getenv("LEDGER_URL")
}

func LedgerAPIKey() string {
	return os.Getenv("LEDGER_API_KEY")
}
