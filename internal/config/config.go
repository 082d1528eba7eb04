// Package config loads the engine's environment-variable configuration,
// grounded on the teacher's config.Load shape: one Config struct per
// concern, env lookups with typed fallbacks, and a single validate pass
// before the process is allowed to start serving.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds every environment-derived setting the engine needs to start.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Server   ServerConfig
	Docker   DockerConfig
	Gate     GateConfig
	Notify   NotifyConfig
	BaseTmp  string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. Addr is empty when Redis is
// not configured, in which case the engine falls back to an in-process
// events.MemoryEmitter and the websocket hub serves only local connections.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// AuthConfig holds the single-operator bearer credential the command
// surface checks on every /api/v1 and /ws request, plus the signing secret
// for the short-lived reconnect token minted after a successful check.
type AuthConfig struct {
	APIKey             string //nolint:gosec // G117: static bearer credential
	ReconnectJWTSecret string //nolint:gosec // G117: JWT signing secret config
	ReconnectTTL       time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// DockerConfig holds container runtime settings.
type DockerConfig struct {
	Host         string
	ImageDefault string
	CPULimit     string
	MemLimit     string
}

// GateConfig controls the concurrency gate's admission cap. Cap == nil means
// unlimited concurrent unit task executions.
type GateConfig struct {
	Cap            *int
	LicenseKeyPath string
}

// NotifyConfig holds the Slack sink's credentials; both empty disables it.
type NotifyConfig struct {
	SlackBotToken string //nolint:gosec // G117: Slack bot credential
	SlackChannel  string
}

// Load reads configuration from environment variables. Defaults are safe
// for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("DELIDEV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	dbMaxConns, err := getEnvInt("DELIDEV_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	redisDB, err := getEnvInt("DELIDEV_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	reconnectTTL, err := getEnvDuration("DELIDEV_RECONNECT_TOKEN_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	readTimeout, err := getEnvDuration("DELIDEV_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	writeTimeout, err := getEnvDuration("DELIDEV_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	var gateCap *int
	if raw := os.Getenv("DELIDEV_GATE_CAP"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			return nil, fmt.Errorf("config.Load: parsing DELIDEV_GATE_CAP=%q as int: %w", raw, perr)
		}
		gateCap = &n
	}

	corsOrigins := getEnvList("DELIDEV_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DELIDEV_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DELIDEV_DB_USER", "delidev"),
			Password: getEnv("DELIDEV_DB_PASSWORD", ""),
			DBName:   getEnv("DELIDEV_DB_NAME", "delidev_dev"),
			SSLMode:  getEnv("DELIDEV_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("DELIDEV_REDIS_ADDR", ""),
			Password: getEnv("DELIDEV_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			APIKey:             getEnv("DELIDEV_API_KEY", ""),
			ReconnectJWTSecret: getEnv("DELIDEV_RECONNECT_JWT_SECRET", ""),
			ReconnectTTL:       reconnectTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("DELIDEV_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Docker: DockerConfig{
			Host:         getEnv("DELIDEV_DOCKER_HOST", "unix:///var/run/docker.sock"),
			ImageDefault: getEnv("DELIDEV_DOCKER_IMAGE_DEFAULT", "ghcr.io/delinoio/delidev-agent:latest"),
			CPULimit:     getEnv("DELIDEV_DOCKER_CPU_LIMIT", "2"),
			MemLimit:     getEnv("DELIDEV_DOCKER_MEM_LIMIT", "2g"),
		},
		Gate: GateConfig{
			Cap:            gateCap,
			LicenseKeyPath: getEnv("DELIDEV_LICENSE_KEY_PATH", ""),
		},
		Notify: NotifyConfig{
			SlackBotToken: getEnv("DELIDEV_SLACK_BOT_TOKEN", ""),
			SlackChannel:  getEnv("DELIDEV_SLACK_CHANNEL", ""),
		},
		BaseTmp: getEnv("DELIDEV_BASE_TMP", os.TempDir()),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.APIKey == "" {
		return errors.New("DELIDEV_API_KEY is required")
	}
	if len(c.Auth.APIKey) < 16 {
		return errors.New("DELIDEV_API_KEY must be at least 16 characters")
	}
	if c.Auth.ReconnectJWTSecret != "" && len(c.Auth.ReconnectJWTSecret) < 32 {
		return errors.New("DELIDEV_RECONNECT_JWT_SECRET must be at least 32 characters")
	}
	if c.Gate.Cap != nil && *c.Gate.Cap < 1 {
		return fmt.Errorf("DELIDEV_GATE_CAP must be >= 1, got %d", *c.Gate.Cap)
	}
	if c.Gate.Cap != nil && c.Gate.LicenseKeyPath == "" {
		log.Warn().Msg("DELIDEV_GATE_CAP is set without DELIDEV_LICENSE_KEY_PATH; gate admission will require a license check that can never succeed")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DELIDEV_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DELIDEV_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("DELIDEV_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("DELIDEV_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
