package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the TripWeave orchestrator.
type Config struct {
	Port    int
	Version string

	Auth      AuthConfig
	Session   SessionConfig
	Providers ProviderConfig
	Account   AccountConfig
	Telemetry TelemetryConfig
}

// AuthConfig controls the connection handshake token check.
type AuthConfig struct {
	// JWTSecret signs/verifies the bearer tokens clients present.
	JWTSecret string
	// JWTAlgorithm names the HMAC signing algorithm for those tokens
	// (HS256, HS384, or HS512).
	JWTAlgorithm string
	// VerifyExpiry toggles enforcement of the token's exp claim. Some
	// deployments validate expiry at the edge proxy; in those setups the
	// orchestrator only extracts the subject.
	VerifyExpiry bool
}

// SessionConfig bounds session retention and turn execution.
type SessionConfig struct {
	// InactivityTimeout is how long an idle session survives before the
	// eviction sweep removes it.
	InactivityTimeout time.Duration
	// MaxHistoryMessages caps retained history; truncation keeps the first
	// two entries and the most recent tail.
	MaxHistoryMessages int
	// MaxOutputTokens bounds a single turn's model output.
	MaxOutputTokens int
	// TurnTimeout bounds one whole agent turn.
	TurnTimeout time.Duration
}

// ProviderConfig carries process-wide provider credentials and the local
// model runtime location.
type ProviderConfig struct {
	OpenAIKey    string
	AnthropicKey string
	// OllamaURL is the base URL of the local model runtime.
	OllamaURL string
	// DefaultModel overrides which static model is flagged default.
	DefaultModel string
	// DefaultOllamaModel is a name substring; the first discovered local
	// model matching it is flagged default among discovered models.
	DefaultOllamaModel string
}

// AccountConfig points at the internal account service that stores
// trip-scoped provider keys.
type AccountConfig struct {
	BaseURL string
	// ServiceSecret signs the HMAC service tokens used on internal calls.
	ServiceSecret string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("TRIPWEAVE_PORT", 8080),
		Version: envStr("TRIPWEAVE_VERSION", "0.4.0"),
		Auth: AuthConfig{
			JWTSecret:    envStr("TRIPWEAVE_JWT_SECRET", ""),
			JWTAlgorithm: envStr("TRIPWEAVE_JWT_ALGORITHM", "HS256"),
			VerifyExpiry: envBool("TRIPWEAVE_AUTH_VERIFY_EXPIRY", true),
		},
		Session: SessionConfig{
			InactivityTimeout:  time.Duration(envInt("TRIPWEAVE_SESSION_TIMEOUT_MINUTES", 240)) * time.Minute,
			MaxHistoryMessages: envInt("TRIPWEAVE_MAX_HISTORY_MESSAGES", 40),
			MaxOutputTokens:    envInt("TRIPWEAVE_MAX_OUTPUT_TOKENS", 4096),
			TurnTimeout:        time.Duration(envInt("TRIPWEAVE_TURN_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Providers: ProviderConfig{
			OpenAIKey:          envStr("OPENAI_API_KEY", ""),
			AnthropicKey:       envStr("ANTHROPIC_API_KEY", ""),
			OllamaURL:          envStr("TRIPWEAVE_OLLAMA_URL", "http://localhost:11434"),
			DefaultModel:       envStr("TRIPWEAVE_DEFAULT_MODEL", ""),
			DefaultOllamaModel: envStr("TRIPWEAVE_DEFAULT_OLLAMA_MODEL", ""),
		},
		Account: AccountConfig{
			BaseURL:       envStr("TRIPWEAVE_ACCOUNT_SERVICE_URL", ""),
			ServiceSecret: envStr("TRIPWEAVE_SERVICE_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "tripweave-orchestrator"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
