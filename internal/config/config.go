// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quill/config.yaml)
//  3. Default values
//
// Security: sensitive fields (API keys, passwords) are masked in
// MarshalJSON and never logged in the clear.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/quillhq/quill/internal/provider"
)

// Sentinel errors. Check with errors.Is().
var (
	// ErrMissingAPIKey indicates the selected provider has no API key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the provider name is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidServerAddr indicates the serve listen address is malformed.
	ErrInvalidServerAddr = errors.New("invalid server address")
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Provider selection and models.
	Provider     string `mapstructure:"provider" json:"provider"`
	GeminiModel  string `mapstructure:"gemini_model" json:"gemini_model"`
	OpenAIModel  string `mapstructure:"openai_model" json:"openai_model"`
	OpenAIBase   string `mapstructure:"openai_base_url" json:"openai_base_url"`
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Deep research mode default for new conversations.
	Deep bool `mapstructure:"deep" json:"deep"`

	// Storage. DATABASE_URL, when set, overrides the individual fields.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode.
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging.
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability (optional OTLP trace export).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quill")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", provider.NameGemini)
	v.SetDefault("gemini_model", provider.DefaultGeminiModel)
	v.SetDefault("openai_model", provider.DefaultOpenAIModel)
	v.SetDefault("deep", false)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quill")
	v.SetDefault("postgres_password", "quill_dev_password")
	v.SetDefault("postgres_db_name", "quill")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("server_addr", "localhost:8420")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("environment", "dev")
}

func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")

	mustBind("provider", "QUILL_PROVIDER")
	mustBind("gemini_model", "QUILL_GEMINI_MODEL")
	mustBind("openai_model", "QUILL_OPENAI_MODEL")
	mustBind("server_addr", "QUILL_SERVER_ADDR")
	mustBind("cors_origins", "QUILL_CORS_ORIGINS")
	mustBind("log_level", "QUILL_LOG_LEVEL")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// parseDatabaseURL overrides the individual PostgreSQL fields from a
// postgres:// URL when one is provided.
func (c *Config) parseDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.PostgresHost = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPostgresPort, p)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate performs fail-fast configuration checks.
func (c *Config) Validate() error {
	switch c.Provider {
	case provider.NameGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for the gemini provider", ErrMissingAPIKey)
		}
	case provider.NameOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai provider", ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidProvider,
			c.Provider, provider.NameGemini, provider.NameOpenAI)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.ServerAddr == "" || !strings.Contains(c.ServerAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidServerAddr, c.ServerAddr)
	}

	return nil
}

// DatabaseURL builds the postgres:// connection URL from the individual
// fields.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	masked.GeminiAPIKey = maskSecret(c.GeminiAPIKey)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
