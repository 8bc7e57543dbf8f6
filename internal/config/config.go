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
)

type Config struct {
	Port     string
	LogLevel string

	Database  DatabaseConfig
	CORS      CORSConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig

	KafkaBrokers string
	RedisURL     string

	Agent AgentConfig
	CDP   CDPConfig
	IDV   IDVConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* settings.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

type CORSConfig struct {
	Origins     []string
	Methods     []string
	Headers     []string
	Credentials bool
}

type AuthConfig struct {
	Issuer            string
	Audience          string
	JWKSURL           string
	Secret            string
	BackendValidation bool
	TokenHeaders      []string
	OpenAPISpecPath   string
}

type RateLimitConfig struct {
	RPS            float64
	Burst          int
	TrustedProxies []string
}

type AgentConfig struct {
	Port                string
	ChatURL             string
	PizzaAPIURL         string
	PizzaAPIFallbackURL string
	IDPBaseURL          string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	AgentID             string
	AgentSecret         string
	Resource            string
	AuthTimeout         time.Duration
	OrderScopes         []string
}

type CDPConfig struct {
	BaseURL string
	Timeout time.Duration
}

type IDVConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Load reads an optional .env file from the working directory and then
// builds the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "pizza"),
			Password: getEnv("DB_PASSWORD", "pizza"),
			Name:     getEnv("DB_NAME", "pizza_shack"),
		},
		CORS: CORSConfig{
			Origins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			Methods:     getEnvList("CORS_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			Headers:     getEnvList("CORS_HEADERS", []string{"Authorization", "Content-Type", "X-Access-Token", "X-JWT-Assertion"}),
			Credentials: getEnvBool("CORS_CREDENTIALS", true),
		},
		Auth: AuthConfig{
			Issuer:            getEnv("JWT_ISSUER", ""),
			Audience:          getEnv("JWT_AUDIENCE", ""),
			JWKSURL:           getEnv("JWKS_URL", ""),
			Secret:            getEnv("JWT_SECRET", ""),
			BackendValidation: getEnvBool("ENABLE_BACKEND_TOKEN_VALIDATION", false),
			TokenHeaders:      getEnvList("TOKEN_HEADERS", []string{"Authorization", "X-Access-Token", "X-JWT-Assertion"}),
			OpenAPISpecPath:   getEnv("OPENAPI_SPEC_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:            getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:          getEnvInt("RATE_LIMIT_BURST", 40),
			TrustedProxies: getEnvList("TRUSTED_PROXIES", nil),
		},
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		Agent: AgentConfig{
			Port:                getEnv("AGENT_PORT", "8001"),
			ChatURL:             getEnv("CHAT_URL", "ws://localhost:8001/chat"),
			PizzaAPIURL:         getEnv("PIZZA_API_URL", "http://localhost:8000"),
			PizzaAPIFallbackURL: getEnv("PIZZA_API_FALLBACK_URL", ""),
			IDPBaseURL:          strings.TrimRight(getEnv("IDP_BASE_URL", ""), "/"),
			ClientID:            getEnv("CLIENT_ID", ""),
			ClientSecret:        getEnv("CLIENT_SECRET", ""),
			RedirectURI:         getEnv("REDIRECT_URI", "http://localhost:8001/callback"),
			AgentID:             getEnv("AGENT_ID", ""),
			AgentSecret:         getEnv("AGENT_SECRET", ""),
			Resource:            getEnv("AUTH_RESOURCE", ""),
			AuthTimeout:         getEnvDuration("AUTH_TIMEOUT", 5*time.Minute),
			OrderScopes:         getEnvList("ORDER_SCOPES", []string{"openid", "order:read", "order:write"}),
		},
		CDP: CDPConfig{
			BaseURL: getEnv("CDP_BASE_URL", ""),
			Timeout: getEnvDuration("CDP_TIMEOUT", 8*time.Second),
		},
		IDV: IDVConfig{
			BaseURL: getEnv("IDV_BASE_URL", ""),
			Timeout: getEnvDuration("IDV_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Auth.BackendValidation && cfg.Auth.JWKSURL == "" && cfg.Auth.Secret == "" {
		return nil, errors.New("backend token validation requires JWKS_URL or JWT_SECRET")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	parsed, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
