package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice booking agent service.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Telephony connects to wss://<this-host>/streams/voice; optional and not read by the
	// service: the webhook builds the stream URL from the request's Host header.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// DefaultOrgID is used by OrgContextProvider when a dialed number has no
	// mapping and a generic fallback context must be returned.
	DefaultOrgID string `envconfig:"DEFAULT_ORG_ID" default:"default"`

	// ASR (Deepgram) configuration
	ASRAPIKey   string `envconfig:"ASR_API_KEY" required:"true"`
	ASRModel    string `envconfig:"ASR_MODEL" default:"nova-2"`
	ASRLanguage string `envconfig:"ASR_LANGUAGE" default:"en-US"`

	// LLM configuration (sashabaranov/go-openai compatible endpoint)
	LLMAPIKey      string  `envconfig:"LLM_API_KEY" required:"true"`
	LLMBaseURL     string  `envconfig:"LLM_BASE_URL" default:""`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTemperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	LLMTimeoutMs   int     `envconfig:"LLM_TIMEOUT_MS" default:"4000"`

	// TTS configuration
	TTSProvider     string `envconfig:"TTS_PROVIDER" default:"cartesia"` // cartesia|elevenlabs
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	ElevenAPIKey    string `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenModelID   string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_turbo_v2_5"`

	// Org context store
	DatabaseURL      string `envconfig:"DATABASE_URL" default:""`
	OrgCacheTTLSec   int    `envconfig:"ORG_CACHE_TTL_SECONDS" default:"300"`
	OrgCacheCapacity int    `envconfig:"ORG_CACHE_CAPACITY" default:"512"`

	// Event sink (Redis stream)
	RedisURL       string `envconfig:"REDIS_URL" default:""`
	EventStreamKey string `envconfig:"EVENT_STREAM_KEY" default:"voiceagent:turns"`
	EventQueueSize int    `envconfig:"EVENT_QUEUE_SIZE" default:"256"`

	// Audio / buffering
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`   // Ring buffer size in bytes; not read, the dialogue runner sizes its own
	ASRAudioQueue   int `envconfig:"ASR_AUDIO_QUEUE_SIZE" default:"10"` // ~200ms @ 20ms frames

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`
	RetryInitialBackoffMs      int `envconfig:"RETRY_INITIAL_BACKOFF_MS" default:"150"`
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"1"`
	ReconnectBackoffMs         int `envconfig:"RECONNECT_BACKOFF_MS" default:"1000"`

	// Booking rule defaults. Not read by the dialogue package: when
	// OrganizationContext.Rules omits a value, the state machine falls back to
	// its own constants (3 retries, 0.5 confidence).
	DefaultMaxRetries         int     `envconfig:"DEFAULT_MAX_RETRIES" default:"3"`
	DefaultConfirmationThresh float64 `envconfig:"DEFAULT_CONFIRMATION_THRESHOLD" default:"0.5"`
	DefaultSlotMinutes        int     `envconfig:"DEFAULT_SLOT_MINUTES" default:"30"`

	// Timer overrides (spec §4.6), milliseconds. The TurnBuffer* values are
	// not passed to the turn buffer, which runs with its package defaults.
	TurnBufferQuiescenceMs   int `envconfig:"TURN_BUFFER_QUIESCENCE_MS" default:"1500"`
	TurnBufferContinuationMs int `envconfig:"TURN_BUFFER_CONTINUATION_MS" default:"2000"`
	SilenceTimeoutMs         int `envconfig:"SILENCE_TIMEOUT_MS" default:"12000"`
	ConversationTimeoutMs    int `envconfig:"CONVERSATION_TIMEOUT_MS" default:"30000"`
	FallbackGreetingMs       int `envconfig:"FALLBACK_GREETING_MS" default:"3000"`
	BargeInDebounceMs        int `envconfig:"BARGE_IN_DEBOUNCE_MS" default:"300"`
	SessionCloseGraceMs      int `envconfig:"SESSION_CLOSE_GRACE_MS" default:"5000"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if it exists, then from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ASRAPIKey == "" {
		return nil, fmt.Errorf("ASR_API_KEY is required")
	}
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	switch cfg.TTSProvider {
	case "cartesia":
		if cfg.CartesiaAPIKey == "" {
			return nil, fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=cartesia")
		}
	case "elevenlabs":
		if cfg.ElevenAPIKey == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
	default:
		return nil, fmt.Errorf("unknown TTS_PROVIDER %q", cfg.TTSProvider)
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
