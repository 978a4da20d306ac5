package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogPretty   bool

	LLMProvider     string
	CerebrasKey     string
	CerebrasModelID string
	GeminiKey       string
	GeminiModel     string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string
	AssemblyAIKey     string

	Ledger             string
	SupabaseURL        string
	SupabaseServiceKey string
	DatabaseURL        string

	StripeSecretKey     string
	StripeWebhookSecret string
	PublicBaseURL       string
	TwilioAuthToken     string

	SilenceTimeout time.Duration
	EnforceLeader  bool
	ICEServersJSON string
	CallPassword   string
}

const defaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Load reads .env and the environment and returns Config with sane
// defaults. Missing provider keys are warned about, not fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getBool("LOG_PRETTY", false),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "cerebras")),
		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnv("CEREBRAS_MODEL_ID", "llama-3.3-70b"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnv("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),

		Ledger:             strings.ToLower(getEnv("LEDGER", "memory")),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),

		SilenceTimeout: getDuration("SILENCE_TIMEOUT", 6*time.Second),
		EnforceLeader:  getBool("ENFORCE_LEADER", false),
		ICEServersJSON: getEnv("ICE_SERVERS_JSON", defaultICEServers),
		CallPassword:   os.Getenv("CALL_PASSWORD"),
	}

	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			log.Warn().Msg("GEMINI_API_KEY not set - game master will not work")
		}
	default:
		if cfg.CerebrasKey == "" {
			log.Warn().Msg("CEREBRAS_API_KEY not set - game master will not work")
		}
	}
	if cfg.ElevenLabsKey == "" {
		log.Warn().Msg("ELEVENLABS_API_KEY not set - /api/tts will not work")
	}
	if cfg.AssemblyAIKey == "" {
		log.Warn().Msg("ASSEMBLYAI_API_KEY not set - voice calls will not transcribe")
	}
	if cfg.StripeSecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY not set - checkout is disabled")
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("ledger", cfg.Ledger).Str("llm", cfg.LLMProvider).Msg("config loaded")
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

// getDuration accepts Go durations ("6s") or bare milliseconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn().Str("key", key).Str("value", raw).Msg("bad duration, using default")
	return defaultValue
}
