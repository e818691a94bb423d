package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Record store backends.
const (
	StoreLocal    = "local"
	StoreSupabase = "supabase"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	BackendURL  string
	LogLevel    string

	RecordStore    string
	SQLitePath     string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	DeepgramKey   string
	DeepgramModel string
	VoiceLocale   string

	FollowUpMinQuestions   int
	FollowUpMaxQuestions   int
	FollowUpTrustEarlyDone bool
}

// Load reads .env and the environment and returns Config with defaults filled in.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:            getEnv("HTTP_ADDRESS", ":8080"),
		BackendURL:             getEnv("BACKEND_URL", "http://localhost:8000"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		RecordStore:            strings.ToLower(getEnv("RECORD_STORE", StoreLocal)),
		SQLitePath:             getEnv("SQLITE_PATH", "prescreen.db"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseKey:            os.Getenv("SUPABASE_KEY"),
		SupabaseBucket:         os.Getenv("SUPABASE_BUCKET"),
		DeepgramKey:            os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:          os.Getenv("DEEPGRAM_MODEL"),
		VoiceLocale:            getEnv("VOICE_LOCALE", "en"),
		FollowUpMinQuestions:   getInt("FOLLOWUP_MIN_QUESTIONS", 2),
		FollowUpMaxQuestions:   getInt("FOLLOWUP_MAX_QUESTIONS", 5),
		FollowUpTrustEarlyDone: getBool("FOLLOWUP_TRUST_EARLY_DONE", false),
	}

	if cfg.DeepgramKey == "" {
		log.Warn().Msg("DEEPGRAM_API_KEY not set - questions will be voiced by the backend TTS endpoint")
	}
	switch cfg.RecordStore {
	case StoreLocal:
	case StoreSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			log.Warn().Msg("RECORD_STORE=supabase but SUPABASE_URL or SUPABASE_KEY not set")
		}
	default:
		log.Warn().Str("record_store", cfg.RecordStore).Msg("unknown RECORD_STORE, using local")
		cfg.RecordStore = StoreLocal
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("backend_url", cfg.BackendURL).Str("record_store", cfg.RecordStore).Msg("config loaded")
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}
