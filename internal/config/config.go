package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"eventnet/internal/neterr"
	"eventnet/internal/network"
	"eventnet/internal/protocol"

	"github.com/joho/godotenv"
)

type Config struct {
	// Network
	Host    string `env:"NET_HOST" required:"true"`
	TCPPort int    `env:"TCP_PORT" required:"true"`
	UDPPort int    `env:"UDP_PORT" required:"true"`

	// Wire limits
	MaxFrameSize        int     `env:"MAX_FRAME_SIZE" default:"1048576"`
	UDPBufferSize       int     `env:"UDP_BUFFER_SIZE" default:"4096"`
	TCPRateLimit        float64 `env:"TCP_RATE_LIMIT" default:"0"`
	TCPRateBurst        int     `env:"TCP_RATE_BURST" default:"20"`
	StrictPayloadLength bool    `env:"STRICT_PAYLOAD_LENGTH" default:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	// Admin API
	AdminPort      int    `env:"ADMIN_PORT" default:"0"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`

	// Redis presence
	RedisURL      string        `env:"REDIS_URL"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL" default:"24h"`
}

// LoadConfig reads .env files (default ".env") then environment variables.
// A missing .env file is not an error; variables already set in the
// environment win over the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, neterr.Configuration("load env file: %v", err)
	}

	config := &Config{}

	// Network
	if err := loadEnvStringRequired(&config.Host, "NET_HOST"); err != nil {
		return nil, err
	}
	if err := loadEnvIntRequired(&config.TCPPort, "TCP_PORT"); err != nil {
		return nil, err
	}
	if err := loadEnvIntRequired(&config.UDPPort, "UDP_PORT"); err != nil {
		return nil, err
	}

	// Wire limits
	if err := loadEnvInt(&config.MaxFrameSize, "MAX_FRAME_SIZE", protocol.DefaultMaxFrameSize); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.UDPBufferSize, "UDP_BUFFER_SIZE", 4096); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.TCPRateLimit, "TCP_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPRateBurst, "TCP_RATE_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.StrictPayloadLength, "STRICT_PAYLOAD_LENGTH", false); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "json")

	// Admin API
	if err := loadEnvInt(&config.AdminPort, "ADMIN_PORT", 0); err != nil {
		return nil, err
	}
	loadEnvString(&config.AdminJWTSecret, "ADMIN_JWT_SECRET", "")

	// Redis presence
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", "")
	if err := loadEnvDuration(&config.PresenceTTL, "PRESENCE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvStringRequired(target *string, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return neterr.Configuration("required environment variable %s is not set", key)
	}
	*target = value
	return nil
}

func loadEnvIntRequired(target *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return neterr.Configuration("required environment variable %s is not set", key)
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return neterr.Configuration("invalid integer value for %s: %v", key, err)
	}
	*target = parsed
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return neterr.Configuration("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return neterr.Configuration("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return neterr.Configuration("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return neterr.Configuration("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var problems []string

	if err := c.Network().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.MaxFrameSize < protocol.EventIDSize {
		problems = append(problems, fmt.Sprintf("MAX_FRAME_SIZE must be at least %d", protocol.EventIDSize))
	}
	if c.UDPBufferSize < protocol.HeaderSize {
		problems = append(problems, fmt.Sprintf("UDP_BUFFER_SIZE must be at least %d", protocol.HeaderSize))
	}
	if c.TCPRateLimit < 0 {
		problems = append(problems, "TCP_RATE_LIMIT must not be negative")
	}
	if c.TCPRateLimit > 0 && c.TCPRateBurst < 1 {
		problems = append(problems, "TCP_RATE_BURST must be at least 1 when TCP_RATE_LIMIT is set")
	}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		problems = append(problems, "ADMIN_PORT must be between 0 and 65535")
	}
	if c.PresenceTTL <= 0 {
		problems = append(problems, "PRESENCE_TTL must be positive")
	}

	if len(problems) > 0 {
		return neterr.Configuration("validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Network maps the loaded values onto the facade configuration. Logger,
// sink and callbacks are left for the caller.
func (c *Config) Network() network.Config {
	return network.Config{
		Host:                c.Host,
		TCPPort:             c.TCPPort,
		UDPPort:             c.UDPPort,
		MaxFrameSize:        c.MaxFrameSize,
		UDPBufferSize:       c.UDPBufferSize,
		RateLimit:           c.TCPRateLimit,
		RateBurst:           c.TCPRateBurst,
		StrictPayloadLength: c.StrictPayloadLength,
	}
}

// AdminEnabled reports whether the admin HTTP API should be served
func (c *Config) AdminEnabled() bool {
	return c.AdminPort > 0
}

// PresenceEnabled reports whether connected clients are mirrored to Redis
func (c *Config) PresenceEnabled() bool {
	return c.RedisURL != ""
}

// NewLogger builds the slog logger described by LOG_LEVEL and LOG_FORMAT
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
