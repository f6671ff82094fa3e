// Package config loads relay settings from defaults, an optional config
// file, a .env file and RELAY_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"roomrelay/internal/logging"
	dbconfig "roomrelay/pkg/database"
	"roomrelay/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_SERVER_PORT.
const EnvPrefix = "RELAY"

// Config is the complete relay configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  dbconfig.Config `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	HTTPRateLimit   int           `mapstructure:"http_rate_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type RoomsConfig struct {
	DefaultMaxPeers int           `mapstructure:"default_max_peers"`
	DefaultLifetime time.Duration `mapstructure:"default_lifetime"`
	LobbyTimeout    time.Duration `mapstructure:"lobby_timeout"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type AuthConfig struct {
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	APIKeyTTL   time.Duration `mapstructure:"api_key_ttl"`
	AdminKeyTTL time.Duration `mapstructure:"admin_key_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			CORSOrigins:     []string{"*"},
			HTTPRateLimit:   60,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: *dbconfig.DefaultConfig(),
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Rooms: RoomsConfig{
			DefaultMaxPeers: types.MaxRoomPeers,
			DefaultLifetime: types.MaxRoomLifetime,
			LobbyTimeout:    10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Limit:  5,
			Window: time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:    60 * time.Second,
			APIKeyTTL:   365 * 24 * time.Hour,
			AdminKeyTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server host cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server tls_cert and tls_key must be set together")
	}
	if c.Server.HTTPRateLimit < 0 {
		return errors.New("server http_rate_limit cannot be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("websocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("websocket buffer size must be positive")
	}

	defaults := types.RoomSettings{
		Name:     "defaults",
		MaxPeers: c.Rooms.DefaultMaxPeers,
		Lifetime: c.Rooms.DefaultLifetime,
	}
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("rooms defaults: %w", err)
	}
	if c.Rooms.LobbyTimeout <= 0 {
		return errors.New("rooms lobby timeout must be positive")
	}

	if c.RateLimit.Limit <= 0 {
		return errors.New("ratelimit limit must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("ratelimit window must be positive")
	}

	if c.Auth.TokenTTL <= 0 || c.Auth.APIKeyTTL <= 0 || c.Auth.AdminKeyTTL <= 0 {
		return errors.New("auth ttls must be positive")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatConsole {
		return fmt.Errorf("log format must be %q or %q", logging.FormatJSON, logging.FormatConsole)
	}
	return nil
}

// RoomDefaults returns the settings applied to rooms created without them.
func (c *Config) RoomDefaults() types.RoomDefaults {
	return types.RoomDefaults{
		MaxPeers: c.Rooms.DefaultMaxPeers,
		Lifetime: c.Rooms.DefaultLifetime,
	}
}

// legacyEnv maps keys to the unprefixed variable names older deployments use.
// Those deployments give durations as bare seconds and origins as a comma
// list; decodeHook accepts both.
var legacyEnv = map[string]string{
	"server.host":             "HOST",
	"server.port":             "PORT",
	"server.cors_origins":     "CORS_ORIGIN",
	"server.tls_cert":         "SSL_CERT",
	"server.tls_key":          "SSL_KEY",
	"database.path":           "API_KEYS_DB_PATH",
	"rooms.lobby_timeout":     "LOBBY_TIMEOUT",
	"rooms.default_max_peers": "DEFAULT_ROOM_MAX_PEERS",
	"rooms.default_lifetime":  "DEFAULT_ROOM_LIFETIME",
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeHook extends viper's usual string conversions: integers bound for a
// duration are seconds, and strings bound for a slice are split on commas.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		mapstructure.StringToTimeDurationHookFunc(),
		commaSliceHook,
	)
}

func secondsToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.String:
		n, err := strconv.ParseInt(strings.TrimSpace(data.(string)), 10, 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(n) * time.Second, nil
	}
	return data, nil
}

func commaSliceHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	out := []string{}
	for _, part := range strings.Split(data.(string), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// LoadDotEnv loads the first existing file among paths into the
// environment without overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// Load builds the configuration. Precedence, highest first: environment,
// config file, defaults. With path empty, RELAY_CONFIG_FILE and then
// ./relay.{yaml,json,toml} are tried.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.tls_cert", d.Server.TLSCert)
	v.SetDefault("server.tls_key", d.Server.TLSKey)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.http_rate_limit", d.Server.HTTPRateLimit)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.path", d.Database.DatabasePath)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.write_timeout", d.Database.WriteTimeout)
	v.SetDefault("database.retry_delay", d.Database.RetryDelay)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)

	v.SetDefault("rooms.default_max_peers", d.Rooms.DefaultMaxPeers)
	v.SetDefault("rooms.default_lifetime", d.Rooms.DefaultLifetime)
	v.SetDefault("rooms.lobby_timeout", d.Rooms.LobbyTimeout)

	v.SetDefault("ratelimit.limit", d.RateLimit.Limit)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)

	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.api_key_ttl", d.Auth.APIKeyTTL)
	v.SetDefault("auth.admin_key_ttl", d.Auth.AdminKeyTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
