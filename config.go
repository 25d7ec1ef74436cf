package scf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// DefaultBaseURL is where the Federal Reserve publishes the summary
// extract archives.
const DefaultBaseURL = "https://www.federalreserve.gov/econres/files/"

// Output file names.
const (
	MergedFileStem      = "scf_merged"
	ProcessedFileName   = "scf_processed.dta"
	ProcessedDCFileName = "scf_processed_dc.dta"
	configEnvPrefix     = "SCF"
)

var validate = validator.New()

// Config holds the pipeline configuration
type Config struct {
	DataDir        string        `yaml:"data_dir" envconfig:"DATA_DIR" default:"data" validate:"required"`
	ArchiveDir     string        `yaml:"archive_dir" envconfig:"ARCHIVE_DIR" default:"_zip" validate:"required"`
	RawDir         string        `yaml:"raw_dir" envconfig:"RAW_DIR" default:"_raw" validate:"required"`
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://www.federalreserve.gov/econres/files/" validate:"required,url"`
	Format         string        `yaml:"format" envconfig:"FORMAT" default:"stata" validate:"oneof=stata sas csv"`
	MergeOutput    string        `yaml:"merge_output" envconfig:"MERGE_OUTPUT" default:"stata" validate:"oneof=stata csv parquet xlsx"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" default:"0s"`
	StrictSchema   bool          `yaml:"strict_schema" envconfig:"STRICT_SCHEMA" default:"false"`
	LowercaseNames bool          `yaml:"lowercase_names" envconfig:"LOWERCASE_NAMES" default:"true"`
	Logging        LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"text" validate:"oneof=text json"`
}

// LoadConfig loads the configuration.  Defaults and SCF_* environment
// variables are applied first, then the YAML file at path, if path is
// not empty, overrides them.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(configEnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: config validation failed: %v", ErrInvalidArgument, err)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: http timeout must not be negative", ErrInvalidArgument)
	}
	return nil
}

// ArchivePath returns the directory holding downloaded archives.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, c.ArchiveDir)
}

// RawPath returns the directory holding extracted data files.
func (c *Config) RawPath() string {
	return filepath.Join(c.DataDir, c.RawDir)
}

// MergedPath returns the path of the merged table in the given format.
func (c *Config) MergedPath(format FileFormat) string {
	return filepath.Join(c.RawPath(), MergedFileStem+format.Extension())
}

// ProcessedPath returns the path of the full processed table.
func (c *Config) ProcessedPath() string {
	return filepath.Join(c.DataDir, ProcessedFileName)
}

// ProcessedDCPath returns the path of the minimal processed table.
func (c *Config) ProcessedDCPath() string {
	return filepath.Join(c.DataDir, ProcessedDCFileName)
}
