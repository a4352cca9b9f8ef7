package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	ProviderGrok   = "grok"
	ProviderOpenAI = "openai"

	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

type Config struct {
	Env        string
	Server     ServerConfig
	AI         AIConfig
	Prediction PredictionConfig
	Market     MarketConfig
	Database   DatabaseConfig
	Admin      AdminConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type AIConfig struct {
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	Temperature        float64
	MaxOutputTokens    int
	RateLimitPerMinute int
	RateLimitBurst     int
}

type PredictionConfig struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	RetryStrategy     string
	MaxDelay          time.Duration
	Timeout           time.Duration
	UseFallbackData   bool
	FallbackOnFailure bool
}

type MarketConfig struct {
	APIKey                string
	BaseURL               string
	RequestTimeout        time.Duration
	QuoteTTL              time.Duration
	BatchSize             int
	BatchDelay            time.Duration
	RateLimitPerMinute    int
	OnDemandRatePerMinute int
	RetryDelay            time.Duration
	MaxRetries            int
	LoaderEnabled         bool
	Timezone              string
	Location              *time.Location
	InitialLoadRetryDelay time.Duration
	StreamEnabled         bool
	StreamURL             string
	StreamSymbols         []string
	StreamReconnectDelay  time.Duration
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type AdminConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load загружает конфигурацию приложения из окружения и .env.
func Load() (Config, error) {
	if err := loadEnv(); err != nil {
		return Config{}, err
	}

	return FromEnv()
}

// FromEnv собирает конфигурацию из текущего окружения без чтения .env.
func FromEnv() (Config, error) {
	cfg := Config{}
	cfg.Env = getEnv("APP_ENV", "local")

	serverPort, err := parseIntEnv(firstSet("PORT", "SERVER_PORT"), 8080)
	if err != nil {
		return cfg, err
	}

	readTimeout, err := parseDurationEnv("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return cfg, err
	}

	writeTimeout, err := parseDurationEnv("SERVER_WRITE_TIMEOUT", 90*time.Second)
	if err != nil {
		return cfg, err
	}

	idleTimeout, err := parseDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return cfg, err
	}

	shutdownTimeout, err := parseDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return cfg, err
	}

	cfg.Server = ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            serverPort,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.AI, err = loadAIConfig(); err != nil {
		return cfg, err
	}

	if cfg.Prediction, err = loadPredictionConfig(); err != nil {
		return cfg, err
	}

	if cfg.Market, err = loadMarketConfig(); err != nil {
		return cfg, err
	}

	if cfg.Database, err = loadDatabaseConfig(); err != nil {
		return cfg, err
	}

	adminTTL, err := parseDurationEnv("ADMIN_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return cfg, err
	}

	cfg.Admin = AdminConfig{
		JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		JWTIssuer: getEnv("ADMIN_JWT_ISSUER", "click-backend"),
		TokenTTL:  adminTTL,
	}

	origins := parseCSVEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: origins}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadAIConfig() (AIConfig, error) {
	timeout, err := parseDurationEnv("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseFloatEnv("AI_TEMPERATURE", 0.3)
	if err != nil {
		return AIConfig{}, err
	}

	maxOutputTokens, err := parseIntEnv("AI_MAX_OUTPUT_TOKENS", 2048)
	if err != nil {
		return AIConfig{}, err
	}

	rateLimitPerMinute, err := parseIntEnv("AI_RATE_LIMIT_PER_MINUTE", 30)
	if err != nil {
		return AIConfig{}, err
	}

	rateLimitBurst, err := parseIntEnv("AI_RATE_LIMIT_BURST", 10)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:           strings.ToLower(getEnv("AI_PROVIDER", ProviderGrok)),
		APIKey:             strings.TrimSpace(getEnv("GROK_API_KEY", "")),
		BaseURL:            getEnv("GROK_API_URL", "https://api.x.ai/v1"),
		Model:              getEnv("GROK_MODEL", "grok-3-mini-fast-beta"),
		Timeout:            timeout,
		Temperature:        temperature,
		MaxOutputTokens:    maxOutputTokens,
		RateLimitPerMinute: rateLimitPerMinute,
		RateLimitBurst:     rateLimitBurst,
	}, nil
}

func loadPredictionConfig() (PredictionConfig, error) {
	maxAttempts, err := parseIntEnv("PREDICTION_MAX_ATTEMPTS", 3)
	if err != nil {
		return PredictionConfig{}, err
	}

	retryDelay, err := parseDurationEnv("PREDICTION_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return PredictionConfig{}, err
	}

	maxDelay, err := parseDurationEnv("PREDICTION_MAX_DELAY", 30*time.Second)
	if err != nil {
		return PredictionConfig{}, err
	}

	timeout, err := parseDurationEnv("PREDICTION_TIMEOUT", 75*time.Second)
	if err != nil {
		return PredictionConfig{}, err
	}

	useFallback, err := parseBoolEnv("USE_FALLBACK_DATA", false)
	if err != nil {
		return PredictionConfig{}, err
	}

	fallbackOnFailure, err := parseBoolEnv("FALLBACK_ON_FAILURE", true)
	if err != nil {
		return PredictionConfig{}, err
	}

	return PredictionConfig{
		MaxAttempts:       maxAttempts,
		RetryDelay:        retryDelay,
		RetryStrategy:     strings.ToLower(getEnv("PREDICTION_RETRY_STRATEGY", StrategyExponential)),
		MaxDelay:          maxDelay,
		Timeout:           timeout,
		UseFallbackData:   useFallback,
		FallbackOnFailure: fallbackOnFailure,
	}, nil
}

func loadMarketConfig() (MarketConfig, error) {
	requestTimeout, err := parseDurationEnv("FINNHUB_TIMEOUT", 10*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	quoteTTL, err := parseDurationEnv("MARKET_QUOTE_TTL", 60*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	batchSize, err := parseIntEnv("MARKET_BATCH_SIZE", 3)
	if err != nil {
		return MarketConfig{}, err
	}

	batchDelay, err := parseDurationEnv("MARKET_BATCH_DELAY", 6*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	rateLimit, err := parseIntEnv("MARKET_RATE_LIMIT_PER_MINUTE", 30)
	if err != nil {
		return MarketConfig{}, err
	}

	onDemandRateLimit, err := parseIntEnv("MARKET_ONDEMAND_RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return MarketConfig{}, err
	}

	retryDelay, err := parseDurationEnv("MARKET_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	maxRetries, err := parseIntEnv("MARKET_MAX_RETRIES", 3)
	if err != nil {
		return MarketConfig{}, err
	}

	loaderEnabled, err := parseBoolEnv("MARKET_LOADER_ENABLED", true)
	if err != nil {
		return MarketConfig{}, err
	}

	initialRetry, err := parseDurationEnv("MARKET_INITIAL_RETRY_DELAY", time.Minute)
	if err != nil {
		return MarketConfig{}, err
	}

	streamEnabled, err := parseBoolEnv("MARKET_STREAM_ENABLED", false)
	if err != nil {
		return MarketConfig{}, err
	}

	streamReconnect, err := parseDurationEnv("MARKET_STREAM_RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	timezone := getEnv("MARKET_TIMEZONE", "America/New_York")
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return MarketConfig{}, fmt.Errorf("MARKET_TIMEZONE must be a valid IANA zone: %w", err)
	}

	return MarketConfig{
		APIKey:                strings.TrimSpace(getEnv(firstSet("FINNHUB_API_KEY", "FINHUB_API_KEY"), "")),
		BaseURL:               getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
		RequestTimeout:        requestTimeout,
		QuoteTTL:              quoteTTL,
		BatchSize:             batchSize,
		BatchDelay:            batchDelay,
		RateLimitPerMinute:    rateLimit,
		OnDemandRatePerMinute: onDemandRateLimit,
		RetryDelay:            retryDelay,
		MaxRetries:            maxRetries,
		LoaderEnabled:         loaderEnabled,
		Timezone:              timezone,
		Location:              location,
		InitialLoadRetryDelay: initialRetry,
		StreamEnabled:         streamEnabled,
		StreamURL:             getEnv("FINNHUB_WS_URL", "wss://ws.finnhub.io"),
		StreamSymbols:         parseCSVEnv("MARKET_STREAM_SYMBOLS"),
		StreamReconnectDelay:  streamReconnect,
	}, nil
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	enabled, err := parseBoolEnv("DB_ENABLED", false)
	if err != nil {
		return DatabaseConfig{}, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return DatabaseConfig{}, err
	}

	maxOpenConns, err := parseIntEnv("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return DatabaseConfig{}, err
	}

	maxIdleConns, err := parseIntEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return DatabaseConfig{}, err
	}

	connMaxIdleTime, err := parseDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return DatabaseConfig{}, err
	}

	connMaxLifetime, err := parseDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		Enabled:         enabled,
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            dbPort,
		User:            getEnv("DB_USER", "click"),
		Password:        getEnv("DB_PASSWORD", "click"),
		Name:            getEnv("DB_NAME", "click"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxIdleTime: connMaxIdleTime,
		ConnMaxLifetime: connMaxLifetime,
	}, nil
}

// DSN возвращает строку подключения к базе данных.
func (c DatabaseConfig) DSN() string {
	user := url.UserPassword(c.User, c.Password)
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}

	query := url.Values{}
	query.Set("sslmode", c.SSLMode)
	return dsn.String() + "?" + query.Encode()
}

// Addr возвращает адрес для http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	switch c.AI.Provider {
	case ProviderGrok, ProviderOpenAI:
	default:
		return fmt.Errorf("AI_PROVIDER must be %q or %q", ProviderGrok, ProviderOpenAI)
	}

	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("AI_TEMPERATURE must be between 0 and 2")
	}

	switch c.Prediction.RetryStrategy {
	case StrategyFixed, StrategyExponential:
	default:
		return fmt.Errorf("PREDICTION_RETRY_STRATEGY must be %q or %q", StrategyFixed, StrategyExponential)
	}

	if c.Prediction.MaxDelay < c.Prediction.RetryDelay {
		return fmt.Errorf("PREDICTION_MAX_DELAY cannot be less than PREDICTION_RETRY_DELAY")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}

		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}

		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}

		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return fmt.Errorf("DB_MAX_IDLE_CONNS cannot exceed DB_MAX_OPEN_CONNS")
		}

		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("ADMIN_JWT_SECRET is required when DB_ENABLED is set")
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}

// firstSet возвращает первое заданное имя переменной из списка или последнее, если не задано ни одно.
func firstSet(keys ...string) string {
	for _, key := range keys {
		if _, ok := os.LookupEnv(key); ok {
			return key
		}
	}

	return keys[len(keys)-1]
}

func parseIntEnv(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return parsed, nil
}

func parseFloatEnv(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}

	return parsed, nil
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}

	return parsed, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return parsed, nil
}

func parseCSVEnv(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func loadEnv() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}
