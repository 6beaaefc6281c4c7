// Package server provides configuration helpers that define runtime defaults,
// validation, and transport limits for the echo service.
package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Tyrowin/wsecho/internal/logging"
)

// Default values for the echo service.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 8765
	DefaultMaxMessageSize  = 1 << 20
	DefaultPingInterval    = 20 * time.Second
	DefaultPongTimeout     = 20 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Config keys shared by viper, flags and environment variables.
const (
	KeyHost            = "host"
	KeyPort            = "port"
	KeyAllowedOrigins  = "allowed-origins"
	KeyMaxMessageSize  = "max-message-size"
	KeyPingInterval    = "ping-interval"
	KeyPongTimeout     = "pong-timeout"
	KeyWriteTimeout    = "write-timeout"
	KeyShutdownTimeout = "shutdown-timeout"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
)

// EnvPrefix is prepended to every environment variable, e.g. ECHO_PORT.
const EnvPrefix = "ECHO"

// KeepaliveConfig controls transport-level ping/pong. A zero PingInterval
// disables keepalive and read deadlines entirely.
type KeepaliveConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Config holds the echo server settings.
type Config struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	MaxMessageSize  int64
	Keepalive       KeepaliveConfig
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: DefaultMaxMessageSize,
		Keepalive: KeepaliveConfig{
			PingInterval: DefaultPingInterval,
			PongTimeout:  DefaultPongTimeout,
		},
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       logging.FormatConsole,
	}
}

// Addr returns the host:port pair the server binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the ws:// address clients connect to.
func (c Config) URL() string {
	return "ws://" + c.Addr()
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var problems []string

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, "port must be between 0 and 65535")
	}
	if c.MaxMessageSize < 0 {
		problems = append(problems, "max-message-size must not be negative")
	}
	if c.Keepalive.PingInterval < 0 {
		problems = append(problems, "ping-interval must not be negative")
	}
	if c.Keepalive.PingInterval > 0 && c.Keepalive.PongTimeout <= 0 {
		problems = append(problems, "pong-timeout must be positive when keepalive is enabled")
	}
	if c.WriteTimeout <= 0 {
		problems = append(problems, "write-timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "shutdown-timeout must be positive")
	}
	if !logging.ValidFormat(c.LogFormat) {
		problems = append(problems, fmt.Sprintf("log-format must be one of: %s, %s", logging.FormatConsole, logging.FormatJSON))
	}
	for _, origin := range c.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" || trimmed == "*" {
			continue
		}
		if _, ok := normalizeOrigin(trimmed); !ok {
			problems = append(problems, fmt.Sprintf("invalid allowed origin %q", origin))
		}
	}

	if len(problems) > 0 {
		return errors.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyHost, d.Host)
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyAllowedOrigins, d.AllowedOrigins)
	v.SetDefault(KeyMaxMessageSize, d.MaxMessageSize)
	v.SetDefault(KeyPingInterval, d.Keepalive.PingInterval)
	v.SetDefault(KeyPongTimeout, d.Keepalive.PongTimeout)
	v.SetDefault(KeyWriteTimeout, d.WriteTimeout)
	v.SetDefault(KeyShutdownTimeout, d.ShutdownTimeout)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
}

// BindEnv makes every key readable from ECHO_* environment variables, with
// dashes mapped to underscores (ECHO_MAX_MESSAGE_SIZE).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads a Config out of v and validates it. Callers are expected
// to have applied SetDefaults and any flag or env bindings first.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Host:           strings.TrimSpace(v.GetString(KeyHost)),
		Port:           v.GetInt(KeyPort),
		AllowedOrigins: parseOrigins(v.GetStringSlice(KeyAllowedOrigins)),
		MaxMessageSize: v.GetInt64(KeyMaxMessageSize),
		Keepalive: KeepaliveConfig{
			PingInterval: v.GetDuration(KeyPingInterval),
			PongTimeout:  v.GetDuration(KeyPongTimeout),
		},
		WriteTimeout:    v.GetDuration(KeyWriteTimeout),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseOrigins flattens comma separated entries, since environment variables
// arrive as a single string.
func parseOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
