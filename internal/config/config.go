package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		RequestTimeout time.Duration `yaml:"requestTimeout"`
		CORSOrigins    []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json or text
	} `yaml:"log"`

	Storage struct {
		StaticDir      string `yaml:"staticDir"`
		MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	} `yaml:"storage"`

	Analyzer struct {
		APIKey         string        `yaml:"apiKey"`
		BaseURL        string        `yaml:"baseURL"`
		Model          string        `yaml:"model"`
		Timeout        time.Duration `yaml:"timeout"`
		ResponseFormat string        `yaml:"responseFormat"` // json_schema, json_object, text
	} `yaml:"analyzer"`

	Assistant struct {
		APIKey       string        `yaml:"apiKey"`
		APIKeyHeader string        `yaml:"apiKeyHeader"`
		BaseURL      string        `yaml:"baseURL"`
		Model        string        `yaml:"model"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"assistant"`

	TIFF struct {
		Timeout   time.Duration `yaml:"timeout"`
		MaxBytes  int64         `yaml:"maxBytes"`
		MaxPixels int64         `yaml:"maxPixels"`
		CacheTTL  time.Duration `yaml:"cacheTTL"`
	} `yaml:"tiff"`

	RateLimit struct {
		PerMinute float64 `yaml:"perMinute"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Retention struct {
		MaxAge   time.Duration `yaml:"maxAge"` // 0 disables the sweeper
		Interval time.Duration `yaml:"interval"`
	} `yaml:"retention"`

	// Database holds the optional run journal. An empty driver disables it.
	Database struct {
		Driver   string `yaml:"driver"` // mysql or postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Load reads the YAML file at path, expanding ${VAR} references from the
// environment so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config that runs the service locally with no optional backends.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 90 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.StaticDir == "" {
		c.Storage.StaticDir = "static"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = 10 << 20
	}
	if c.Analyzer.BaseURL == "" {
		c.Analyzer.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	}
	if c.Analyzer.Model == "" {
		c.Analyzer.Model = "gemini-2.0-flash"
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = 60 * time.Second
	}
	if c.Analyzer.ResponseFormat == "" {
		c.Analyzer.ResponseFormat = "json_schema"
	}
	if c.Assistant.Timeout == 0 {
		c.Assistant.Timeout = 30 * time.Second
	}
	if c.TIFF.Timeout == 0 {
		c.TIFF.Timeout = 30 * time.Second
	}
	if c.TIFF.MaxBytes == 0 {
		c.TIFF.MaxBytes = 50 << 20
	}
	if c.TIFF.MaxPixels == 0 {
		c.TIFF.MaxPixels = 50_000_000
	}
	if c.TIFF.CacheTTL == 0 {
		c.TIFF.CacheTTL = time.Hour
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 30
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("storage.maxUploadBytes must not be negative"))
	}
	switch c.Analyzer.ResponseFormat {
	case "json_schema", "json_object", "text":
	default:
		errs = append(errs, fmt.Errorf("analyzer.responseFormat %q not one of json_schema, json_object, text", c.Analyzer.ResponseFormat))
	}
	if _, err := url.Parse(c.Analyzer.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("analyzer.baseURL: %w", err))
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not one of mysql, postgres", c.Database.Driver))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	if c.TIFF.MaxPixels < 0 {
		errs = append(errs, errors.New("tiff.maxPixels must not be negative"))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention.maxAge must not be negative"))
	}
	if c.RateLimit.PerMinute < 0 {
		errs = append(errs, errors.New("rateLimit.perMinute must not be negative"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL-style connection string.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// LogLevel maps log.level to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UploadsDir and ReportsDir are the two public artifact directories under the static root.
func (c *Config) UploadsDir() string { return c.Storage.StaticDir + "/uploads" }

func (c *Config) ReportsDir() string { return c.Storage.StaticDir + "/reports" }
