// Package config loads server and CLI settings from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite    = "sqlite"
	StoreMySQL     = "mysql"
	StoreSurrealDB = "surrealdb"
)

// Analyzer providers.
const (
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// Server
	ServerPort int
	DataDir    string

	// Persistence
	Store      string
	SQLitePath string
	DBDebug    bool

	// MySQL connection
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Document analysis
	Analyzer        string
	AnalyzerModel   string
	AWSRegion       string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AnalyzerRPS     float64
	AnalyzerTimeout time.Duration

	// Import limits and dispatch
	MaxFiles      int
	MaxFileBytes  int64
	SyncThreshold int
	Workers       int
	QueueSize     int

	// Matching
	MatchMinScore float64
	MatchLimit    int

	// Reference data and housekeeping
	VocabularyFile  string
	JanitorSchedule string
	StallAfter      time.Duration
	PdftoppmPath    string
	PdftotextPath   string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	dataDir := getEnv("FLOORPLAN_DATA_DIR", "./data")
	analyzer := strings.ToLower(getEnv("FLOORPLAN_ANALYZER", ProviderBedrock))

	return Config{
		ServerPort: getEnvInt("FLOORPLAN_SERVER_PORT", 8585),
		DataDir:    dataDir,

		Store:      strings.ToLower(getEnv("FLOORPLAN_STORE", StoreSQLite)),
		SQLitePath: getEnv("FLOORPLAN_SQLITE_PATH", filepath.Join(dataDir, "floorplan.db")),
		DBDebug:    getEnv("FLOORPLAN_DB_DEBUG", "false") == "true",

		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnvInt("MYSQL_PORT", 3306),
		MySQLUser:     getEnv("MYSQL_USER", "floorplan"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", "floorplan"),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "floorplan"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "floorplan"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "imports"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		Analyzer:        analyzer,
		AnalyzerModel:   getEnv("FLOORPLAN_ANALYZER_MODEL", DefaultModel(analyzer)),
		AWSRegion:       getEnv("AWS_REGION", "ap-northeast-1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnalyzerRPS:     getEnvFloat("FLOORPLAN_ANALYZER_RPS", 2),
		AnalyzerTimeout: getEnvDuration("FLOORPLAN_ANALYZER_TIMEOUT", 2*time.Minute),

		MaxFiles:      getEnvInt("FLOORPLAN_MAX_FILES", 50),
		MaxFileBytes:  int64(getEnvInt("FLOORPLAN_MAX_FILE_BYTES", 20<<20)),
		SyncThreshold: getEnvInt("FLOORPLAN_SYNC_THRESHOLD", 3),
		Workers:       getEnvInt("FLOORPLAN_WORKERS", 2),
		QueueSize:     getEnvInt("FLOORPLAN_QUEUE_SIZE", 64),

		MatchMinScore: getEnvFloat("FLOORPLAN_MATCH_MIN_SCORE", 0.3),
		MatchLimit:    getEnvInt("FLOORPLAN_MATCH_LIMIT", 5),

		VocabularyFile:  getEnv("FLOORPLAN_VOCABULARY_FILE", ""),
		JanitorSchedule: getEnv("FLOORPLAN_JANITOR_SCHEDULE", "@every 5m"),
		StallAfter:      getEnvDuration("FLOORPLAN_STALL_AFTER", 15*time.Minute),
		PdftoppmPath:    getEnv("FLOORPLAN_PDFTOPPM", "pdftoppm"),
		PdftotextPath:   getEnv("FLOORPLAN_PDFTOTEXT", "pdftotext"),

		LogFile:  getEnv("FLOORPLAN_LOG_FILE", "/tmp/floorplan.log"),
		LogLevel: parseLogLevel(getEnv("FLOORPLAN_LOG_LEVEL", "INFO")),
	}
}

// DefaultModel returns the model used when FLOORPLAN_ANALYZER_MODEL is unset.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderBedrock:
		return "anthropic.claude-3-5-sonnet-20241022-v2:0"
	case ProviderOllama:
		return "qwen2.5:14b"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return ""
	}
}

// ClientConfig holds the CLI's connection settings.
type ClientConfig struct {
	ServerURL string
	TenantID  string
	UserID    string
	Timeout   time.Duration
}

// LoadClient reads the CLI settings from environment variables.
func LoadClient() ClientConfig {
	return ClientConfig{
		ServerURL: getEnv("FLOORPLAN_SERVER_URL", "http://localhost:8585"),
		TenantID:  getEnv("FLOORPLAN_TENANT", "default"),
		UserID:    getEnv("FLOORPLAN_USER", os.Getenv("USER")),
		Timeout:   getEnvDuration("FLOORPLAN_CLIENT_TIMEOUT", 10*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
