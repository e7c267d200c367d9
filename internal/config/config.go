package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig
	Deriv    DerivConfig
	Relay    RelayConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Log      LogConfig
}

// ServerConfig defines the HTTP listener and browser-facing settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	FrontendURL     string        `mapstructure:"frontend_url"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DerivConfig defines how the upstream trading-data API is reached.
type DerivConfig struct {
	WSURL          string        `mapstructure:"ws_url"`
	AppID          string        `mapstructure:"app_id"`
	OAuthURL       string        `mapstructure:"oauth_url"`
	CallbackURL    string        `mapstructure:"callback_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// Endpoint returns the websocket URL with the application id appended.
func (d DerivConfig) Endpoint() string {
	return d.WSURL + d.AppID
}

// RelayConfig defines the per-stream downstream queue policy.
type RelayConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string usable by pgxpool.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig defines the session backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig defines the browser session cookie.
type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool
}

// LogConfig defines the log level.
type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("deriv.ws_url", "wss://ws.derivws.com/websockets/v3?app_id=")
	v.SetDefault("deriv.app_id", "")
	v.SetDefault("deriv.oauth_url", "https://oauth.deriv.com/oauth2/authorize")
	v.SetDefault("deriv.callback_url", "http://localhost:5000/api/auth/deriv/callback")
	v.SetDefault("deriv.connect_timeout", 10*time.Second)
	v.SetDefault("deriv.request_timeout", 30*time.Second)
	v.SetDefault("deriv.write_timeout", 5*time.Second)

	v.SetDefault("relay.buffer_size", 64)
	v.SetDefault("relay.write_timeout", 5*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "tickpulse")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.cookie_name", "tickpulse.sid")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure", false)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by existing deployments.
	_ = v.BindEnv("server.frontend_url", "SERVER_FRONTEND_URL", "FRONTEND_URL")

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
