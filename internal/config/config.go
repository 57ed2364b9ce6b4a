package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Templates    TemplatesConfig    `yaml:"templates" mapstructure:"templates"`
	OCR          OCRConfig          `yaml:"ocr" mapstructure:"ocr"`
	Calibrate    CalibrateConfig    `yaml:"calibrate" mapstructure:"calibrate"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the verification API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// VerificationConfig holds the decision-engine and pattern-learning
// thresholds. These are deployment configuration, not compiled constants, so
// they can vary per environment and per test.
type VerificationConfig struct {
	AutoApproveThreshold    int     `yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold" mapstructure:"high_confidence_threshold"`
	MinPatternCount         int     `yaml:"min_pattern_count" mapstructure:"min_pattern_count"`
	BaseConfidence          float64 `yaml:"base_confidence" mapstructure:"base_confidence"`
	ConfidenceStep          float64 `yaml:"confidence_step" mapstructure:"confidence_step"`
	ConfidenceSpan          float64 `yaml:"confidence_span" mapstructure:"confidence_span"`
	ConfidenceCap           float64 `yaml:"confidence_cap" mapstructure:"confidence_cap"`
	StatsWindowDays         int     `yaml:"stats_window_days" mapstructure:"stats_window_days"`
}

// TemplatesConfig configures the bank-template catalog source.
type TemplatesConfig struct {
	// CatalogPath points at a published YAML catalog. Empty means the
	// built-in defaults are used.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// OCRConfig configures the screenshot text extractor used when a submission
// arrives with image bytes instead of pre-extracted text.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	MistralAPIKey string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
}

// CalibrateConfig configures the batch calibration jobs.
type CalibrateConfig struct {
	MaxConcurrentTenants int `yaml:"max_concurrent_tenants" mapstructure:"max_concurrent_tenants"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLEARSLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "clearslip.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("verification.auto_approve_threshold", 3)
	v.SetDefault("verification.high_confidence_threshold", 0.8)
	v.SetDefault("verification.min_pattern_count", 5)
	v.SetDefault("verification.base_confidence", 0.6)
	v.SetDefault("verification.confidence_step", 0.05)
	v.SetDefault("verification.confidence_span", 0.35)
	v.SetDefault("verification.confidence_cap", 0.95)
	v.SetDefault("verification.stats_window_days", 30)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("calibrate.max_concurrent_tenants", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ValidateStore checks that the storage configuration is usable. Commands
// that need a database refuse to start without one.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
