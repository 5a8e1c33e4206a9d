package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the essay service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Essay     EssayConfig     `mapstructure:"essay"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

func (g GeneralConfig) Validate() error {
	switch strings.ToLower(g.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.log_level must be one of debug|info|warn|error, got %q", g.LogLevel)
	}
	switch strings.ToLower(g.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("general.log_format must be json or console, got %q", g.LogFormat)
	}
	return nil
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ConventionalStatus maps failures to 4xx/5xx instead of always answering 200.
	ConventionalStatus bool `mapstructure:"conventional_status"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if s.StartupTimeout <= 0 || s.RequestTimeout <= 0 || s.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}
	return nil
}

// ModelConfig configures the generative model client
type ModelConfig struct {
	Provider       string        `mapstructure:"provider"` // gemini
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Name           string        `mapstructure:"name"`
	Temperature    float64       `mapstructure:"temperature"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// RequireAPIKey turns a missing credential into a startup failure.
	RequireAPIKey bool        `mapstructure:"require_api_key"`
	Distillation  RetryConfig `mapstructure:"distillation"`
	Composition   RetryConfig `mapstructure:"composition"`
}

func (m ModelConfig) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("model.provider required")
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("model.temperature must be within [0, 2]")
	}
	if err := m.Distillation.Validate(); err != nil {
		return fmt.Errorf("model.distillation: %w", err)
	}
	if err := m.Composition.Validate(); err != nil {
		return fmt.Errorf("model.composition: %w", err)
	}
	return nil
}

// RetryConfig overrides fields of a retry preset; zero values keep the preset.
type RetryConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	InitialDelay         time.Duration `mapstructure:"initial_delay"`
	Multiplier           float64       `mapstructure:"multiplier"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	RetryableStatusCodes []int         `mapstructure:"retryable_status_codes"`
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1")
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// StorageConfig selects and configures the document store
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres, redis or file
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	File     FileConfig     `mapstructure:"file"`
}

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case "postgres":
		return s.Postgres.Validate()
	case "redis":
		return s.Redis.Validate()
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			return fmt.Errorf("storage.file.path required for the file driver")
		}
		return nil
	default:
		return fmt.Errorf("storage.driver must be postgres, redis or file, got %q", s.Driver)
	}
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the configured URL or one assembled from the discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// FileConfig points at a JSON fixture file of source records
type FileConfig struct {
	Path string `mapstructure:"path"`
}

// SourcesConfig names the two records distilled at startup
type SourcesConfig struct {
	UsersCollection        string `mapstructure:"users_collection"`
	ScholarshipsCollection string `mapstructure:"scholarships_collection"`
	UserID                 string `mapstructure:"user_id"`
	ScholarshipID          string `mapstructure:"scholarship_id"`
}

// EssayConfig bounds the generated essay length
type EssayConfig struct {
	MinWords int `mapstructure:"min_words"`
	MaxWords int `mapstructure:"max_words"`
}

func (e EssayConfig) Validate() error {
	if e.MinWords <= 0 || e.MaxWords < e.MinWords {
		return fmt.Errorf("essay: need 0 < min_words <= max_words, got %d..%d", e.MinWords, e.MaxWords)
	}
	return nil
}

// TelemetryConfig controls the metrics endpoint and trace export
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Tracing exports spans over OTLP/HTTP, configured by the OTEL_* variables.
	Tracing bool `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("server.address", ":7680")
	v.SetDefault("server.startup_timeout", 3*time.Minute)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.name", "gemini-2.5-flash-lite")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.attempt_timeout", 30*time.Second)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.dbname", "essaygen")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("sources.users_collection", "users")
	v.SetDefault("sources.scholarships_collection", "scholarships")
	v.SetDefault("essay.min_words", 200)
	v.SetDefault("essay.max_words", 300)
	v.SetDefault("telemetry.enabled", true)

	// keys without a meaningful default are still registered so that
	// AutomaticEnv overrides reach Unmarshal
	zero := map[string]any{
		"general.debug":              false,
		"server.conventional_status": false,
		"model.api_key":              "",
		"model.base_url":             "",
		"model.require_api_key":      false,
		"storage.postgres.url":       "",
		"storage.postgres.user":      "",
		"storage.postgres.password":  "",
		"storage.redis.password":     "",
		"storage.redis.db":           0,
		"storage.file.path":          "",
		"sources.user_id":            "",
		"sources.scholarship_id":     "",
		"telemetry.tracing":          false,
	}
	for _, call := range []string{"distillation", "composition"} {
		zero["model."+call+".max_attempts"] = 0
		zero["model."+call+".initial_delay"] = time.Duration(0)
		zero["model."+call+".multiplier"] = 0.0
		zero["model."+call+".max_delay"] = time.Duration(0)
	}
	for key, val := range zero {
		v.SetDefault(key, val)
	}
}

// Load reads configuration from path (or the default search locations when
// path is empty) and ESSAYGEN_* environment variables. A missing config file
// in the default locations is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ESSAYGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("model.api_key", "ESSAYGEN_MODEL_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.General.Validate,
		c.Server.Validate,
		c.Model.Validate,
		c.Storage.Validate,
		c.Essay.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
