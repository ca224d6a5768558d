package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	GeminiModel  string
	LLMTimeout   time.Duration

	DatabaseURL   string
	ChatStore     string // "sqlite" or "file"
	ChatStorePath string

	CorpusPath          string
	SimilarityThreshold float64

	ReachabilityURLs    []string
	ReachabilityTimeout time.Duration
	HistoryTokenBudget  int

	HTTPPort   string
	LogLevel   string
	LogFormat  string
	JWTSecret  string
	SessionTTL time.Duration
}

const (
	ChatStoreSQLite = "sqlite"
	ChatStoreFile   = "file"
)

var AppConfig Config

// LoadConfig reads .env (when present) and the process environment into AppConfig.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash-lite"),
		LLMTimeout:   time.Duration(getEnvAsPositiveInt("LLM_TIMEOUT_SECONDS", 30)) * time.Second,

		DatabaseURL:   getEnv("DATABASE_URL", "paklaw.db"),
		ChatStore:     strings.ToLower(getEnv("CHAT_STORE", ChatStoreSQLite)),
		ChatStorePath: getEnv("CHAT_STORE_PATH", "user_chats.json"),

		CorpusPath:          getEnv("CORPUS_PATH", "data/legal_corpus.csv"),
		SimilarityThreshold: getEnvAsFloat("OFFLINE_SIMILARITY_THRESHOLD", 0.3),

		ReachabilityURLs:    getEnvAsList("REACHABILITY_URLS", []string{"https://www.google.com", "https://www.microsoft.com"}),
		ReachabilityTimeout: time.Duration(getEnvAsPositiveInt("REACHABILITY_TIMEOUT_SECONDS", 3)) * time.Second,
		HistoryTokenBudget:  getEnvAsInt("PROMPT_HISTORY_TOKENS", 1500),

		HTTPPort:   getEnv("HTTP_PORT", "8080"),
		LogLevel:   strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "text")),
		JWTSecret:  getEnv("JWT_SECRET", ""),
		SessionTTL: time.Duration(getEnvAsPositiveInt("SESSION_TTL_HOURS", 24)) * time.Hour,
	}

	if AppConfig.ChatStore != ChatStoreSQLite && AppConfig.ChatStore != ChatStoreFile {
		slog.Warn("Unknown CHAT_STORE value, falling back to sqlite", "value", AppConfig.ChatStore)
		AppConfig.ChatStore = ChatStoreSQLite
	}

	return AppConfig
}

// OnlineEnabled reports whether a hosted model key is configured.
func (c Config) OnlineEnabled() bool {
	return c.GeminiAPIKey != ""
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsPositiveInt is getEnvAsInt for durations and limits that must be
// bounded; zero or negative values fall back to the default.
func getEnvAsPositiveInt(key string, defaultValue int) int {
	if value := getEnvAsInt(key, defaultValue); value > 0 {
		return value
	}
	slog.Warn("Ignoring non-positive setting, using default", "key", key, "default", defaultValue)
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
