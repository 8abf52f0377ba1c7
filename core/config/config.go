// Package config loads Scout's own runtime configuration from the
// environment, with sensible defaults for local development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the Audit Log and the
// Middle-Manager Gate. It is read-only for the lifetime of an instance.
type Config struct {
	// Env is the environment name (development, staging, production).
	Env string

	// AuditPath is the JSONL audit log location. Defaults to
	// ~/.scout/audit.jsonl.
	AuditPath string

	// RawBriefsDir is where unparsed gate responses are archived for
	// calibration. Defaults to ~/.scout/raw_briefs.
	RawBriefsDir string

	// ConfidenceThreshold is the minimum parsed confidence a compressed
	// brief must clear to pass the gate.
	ConfidenceThreshold float64

	// MaxAttempts bounds how many compress-and-parse attempts the gate
	// makes before escalating to raw facts.
	MaxAttempts int

	// GateModel is the model identifier sent on every gate attempt.
	GateModel string

	// LLMBaseURL overrides the OpenAI-compatible endpoint the gate's LLM
	// client talks to (e.g. Groq's OpenAI-compatible API).
	LLMBaseURL string

	// LLMAPIKey is the credential for the gate's LLM client.
	LLMAPIKey string

	// FsyncEveryLines and FsyncInterval control the audit log's fsync
	// cadence: flush+fsync when either bound is reached.
	FsyncEveryLines int
	FsyncInterval   time.Duration

	// RotationBytes is the active audit log size threshold that triggers
	// gzip rotation.
	RotationBytes int64
}

// Load loads configuration from environment variables, optionally reading
// a ".env" file first (ignored if absent — matches the teacher's
// godotenv.Load() convention for local development).
func Load() Config {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()

	return Config{
		Env:                 getEnv("SCOUT_ENV", "development"),
		AuditPath:           getEnv("SCOUT_AUDIT_PATH", filepath.Join(home, ".scout", "audit.jsonl")),
		RawBriefsDir:        getEnv("SCOUT_RAW_BRIEFS_DIR", filepath.Join(home, ".scout", "raw_briefs")),
		ConfidenceThreshold: getEnvFloat("SCOUT_CONFIDENCE_THRESHOLD", 0.75),
		MaxAttempts:         getEnvInt("SCOUT_MAX_ATTEMPTS", 3),
		GateModel:           getEnv("SCOUT_GATE_MODEL", "llama-3.3-70b-versatile"),
		LLMBaseURL:          getEnv("SCOUT_LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMAPIKey:           getEnv("GROQ_API_KEY", ""),
		FsyncEveryLines:     getEnvInt("SCOUT_FSYNC_LINES", 10),
		FsyncInterval:       time.Duration(getEnvInt("SCOUT_FSYNC_INTERVAL_MS", 1000)) * time.Millisecond,
		RotationBytes:       int64(getEnvInt("SCOUT_ROTATION_BYTES", 10*1024*1024)),
	}
}

// IsProduction returns true if running in the production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
