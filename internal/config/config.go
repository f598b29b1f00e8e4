package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/omnichat/server/adapters/llm"
	"github.com/satriahrh/omnichat/server/adapters/storage"
	"github.com/satriahrh/omnichat/server/adapters/tts"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Speech providers
const (
	SpeechGoogle = "google"
	SpeechMock   = "mock"
)

const (
	defaultPort          = "8080"
	defaultIdleMinutes   = 30
	defaultJWTTTLHours   = 24
	defaultSQLitePath    = "omnichat.db"
	defaultRedisAddr     = "localhost:6379"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultStoreBackend  = StoreSQLite
	defaultSpeechBackend = SpeechGoogle
)

// Config aggregates every setting of the server
type Config struct {
	Server  ServerConfig
	Gemini  GeminiSettings
	Storage StorageConfig
	Speech  SpeechConfig
	Log     LogConfig
}

// ServerConfig describes the HTTP server and sessions
type ServerConfig struct {
	Port        string
	IdleTimeout time.Duration
	JWTSecret   string
	JWTTTL      time.Duration
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	if strings.Contains(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// GeminiSettings describes the language-model gateway
type GeminiSettings struct {
	Gateway llm.GeminiConfig
	// SeedKey is used while no key has been saved
	SeedKey         string
	Mock            bool
	EmotionAnalysis bool
}

// StorageConfig selects where preferences and the API key live
type StorageConfig struct {
	Backend    string
	SQLitePath string
	Redis      storage.RedisConfig
	Mongo      storage.MongoConfig
	// Keyring keeps the API key in the OS credential store
	Keyring bool
}

// SpeechConfig selects the recognition and synthesis providers
type SpeechConfig struct {
	Provider   string
	ElevenLabs tts.ElevenLabsConfig
}

// LogConfig describes the zap logger
type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the environment only
func FromEnv() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	gemini, err := loadGeminiSettings()
	if err != nil {
		return nil, err
	}

	store, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		Gemini:  gemini,
		Storage: store,
		Speech: SpeechConfig{
			Provider:   strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", defaultSpeechBackend)),
			ElevenLabs: tts.NewElevenLabsConfigFromEnv(),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", defaultLogLevel)),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", defaultLogFormat)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := getEnvOrDefault("PORT", defaultPort)
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	idle, err := parseOptionalIntEnv("SESSION_IDLE_MINUTES")
	if err != nil {
		return ServerConfig{}, err
	}
	idleMinutes := defaultIdleMinutes
	if idle != nil {
		idleMinutes = *idle
	}

	ttl, err := parseOptionalIntEnv("JWT_TTL_HOURS")
	if err != nil {
		return ServerConfig{}, err
	}
	ttlHours := defaultJWTTTLHours
	if ttl != nil {
		ttlHours = *ttl
	}

	return ServerConfig{
		Port:        port,
		IdleTimeout: time.Duration(idleMinutes) * time.Minute,
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTTTL:      time.Duration(ttlHours) * time.Hour,
	}, nil
}

func loadGeminiSettings() (GeminiSettings, error) {
	mock, err := parseBoolEnv("GEMINI_MOCK", false)
	if err != nil {
		return GeminiSettings{}, err
	}

	emotion, err := parseBoolEnv("EMOTION_ANALYSIS_ENABLED", true)
	if err != nil {
		return GeminiSettings{}, err
	}

	return GeminiSettings{
		Gateway:         llm.NewGeminiConfigFromEnv(),
		SeedKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Mock:            mock,
		EmotionAnalysis: emotion,
	}, nil
}

func loadStorageConfig() (StorageConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StorageConfig{}, err
	}
	redisDB := 0
	if db != nil {
		redisDB = *db
	}

	useKeyring, err := parseBoolEnv("KEYRING_ENABLED", false)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Backend:    strings.ToLower(getEnvOrDefault("STORE_BACKEND", defaultStoreBackend)),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", defaultSQLitePath),
		Redis: storage.RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Prefix:   os.Getenv("REDIS_PREFIX"),
		},
		Mongo: storage.MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: os.Getenv("MONGODB_DATABASE"),
		},
		Keyring: useKeyring,
	}, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be positive, got %v", c.Server.IdleTimeout)
	}
	if c.Server.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL_HOURS must be positive, got %v", c.Server.JWTTTL)
	}

	if err := llm.ValidateGeminiConfig(c.Gemini.Gateway); err != nil {
		return fmt.Errorf("invalid Gemini configuration: %w", err)
	}

	switch c.Storage.Backend {
	case StoreMemory, StoreSQLite, StoreRedis, StoreMongo:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative, got %d", c.Storage.Redis.DB)
	}

	switch c.Speech.Provider {
	case SpeechGoogle, SpeechMock:
	default:
		return fmt.Errorf("unknown SPEECH_PROVIDER %q", c.Speech.Provider)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// NewLogger builds the production zap logger with the configured level and encoding
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
