package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("loopback-login version %s, commit %s, built at %s", version, commit, date)
}

// Version returns the build version
func Version() string {
	return version
}

const envPrefix = "LOOPBACK_LOGIN"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Token    TokenConfig    `mapstructure:"token"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

// Addr returns the host:port the server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// OAuthConfig holds the identity provider credentials. Endpoint overrides are
// empty in production and point at a stub provider in tests.
type OAuthConfig struct {
	Provider     string   `mapstructure:"provider"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
}

// Configured reports whether both client credentials are present
func (o OAuthConfig) Configured() bool {
	return strings.TrimSpace(o.ClientID) != "" && strings.TrimSpace(o.ClientSecret) != ""
}

type TokenConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendRedis  SessionBackend = "redis"
)

type SessionsConfig struct {
	Backend       SessionBackend `mapstructure:"backend"`
	TTL           time.Duration  `mapstructure:"ttl"`
	RedisAddr     string         `mapstructure:"redis_addr"`
	RedisPassword string         `mapstructure:"redis_password"`
	RedisDB       int            `mapstructure:"redis_db"`
}

type StorageDriver string

const (
	StorageDriverMemory StorageDriver = "memory"
	StorageDriverSQLite StorageDriver = "sqlite"
)

type StorageConfig struct {
	Driver StorageDriver `mapstructure:"driver"`
	Path   string        `mapstructure:"path"`
}

// ClientConfig configures the terminal side of the flow. CallbackPort must
// match the redirect URI registered with the provider, so it is never picked
// at runtime.
type ClientConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	CallbackPort    int           `mapstructure:"callback_port"`
	CallbackPath    string        `mapstructure:"callback_path"`
	FlowTimeout     time.Duration `mapstructure:"flow_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// RedirectURI is the loopback URI the provider redirects the browser to
func (c ClientConfig) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", c.CallbackPort, c.CallbackPath)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("oauth.provider", "google")
	v.SetDefault("oauth.scopes", []string{"openid", "email", "profile"})

	v.SetDefault("token.issuer", "loopback-login")
	v.SetDefault("token.ttl", 30*24*time.Hour)

	v.SetDefault("sessions.backend", string(SessionBackendMemory))
	v.SetDefault("sessions.ttl", 10*time.Minute)
	v.SetDefault("sessions.redis_addr", "localhost:6379")

	v.SetDefault("storage.driver", string(StorageDriverMemory))
	v.SetDefault("storage.path", "loopback-login.db")

	v.SetDefault("client.api_url", "http://localhost:8000")
	v.SetDefault("client.callback_port", 9876)
	v.SetDefault("client.callback_path", "/callback")
	v.SetDefault("client.flow_timeout", 2*time.Minute)
	v.SetDefault("client.poll_interval", time.Second)
	v.SetDefault("client.request_timeout", 30*time.Second)
	v.SetDefault("client.credentials_file", defaultCredentialsFile())
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".loopback-login/credentials.yaml"
	}
	return dir + "/loopback-login/credentials.yaml"
}

// flagKeys maps command line flag names onto config keys
var flagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"log-level":     "logging.level",
	"api-url":       "client.api_url",
	"callback-port": "client.callback_port",
	"storage":       "storage.driver",
	"sessions":      "sessions.backend",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// Load reads configuration from config.yaml, LOOPBACK_LOGIN_* environment
// variables and the given flag set, in increasing precedence. A missing
// config file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/loopback-login")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Sessions.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("unsupported sessions.backend %q, expected memory or redis", c.Sessions.Backend)
	}
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverSQLite:
	default:
		return fmt.Errorf("unsupported storage.driver %q, expected memory or sqlite", c.Storage.Driver)
	}
	if c.Client.CallbackPort <= 0 || c.Client.CallbackPort > 65535 {
		return fmt.Errorf("client.callback_port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Client.CallbackPath, "/") {
		return fmt.Errorf("client.callback_path must start with /")
	}
	if c.Client.PollInterval <= 0 || c.Client.FlowTimeout < c.Client.PollInterval {
		return fmt.Errorf("client.flow_timeout must be at least one client.poll_interval")
	}
	return nil
}
