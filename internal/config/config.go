package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/logger"
)

// Config holds the settings shared by every appkg command.
type Config struct {
	// DigestAlgorithm hashes files the declaration does not list yet.
	DigestAlgorithm digest.Algorithm `yaml:"digest_algorithm"`
	// Compression is the storage method of payload entries.
	Compression container.Compression `yaml:"compression"`
	// CompressionLevel is the deflate level, 1 to 9. Other methods ignore it.
	CompressionLevel int `yaml:"compression_level"`
	// DeclarationFormat names the codec of the declaration entry.
	DeclarationFormat string `yaml:"declaration_format"`
	// Workers is the number of entries verified concurrently.
	Workers int `yaml:"workers"`
	// LogLevel is the minimum level written to stderr.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for tool settings.
	DefaultConfigFilename = "appkg-settings.yaml"

	// DefaultWorkers is the default number of concurrent verification streams.
	DefaultWorkers = 4

	// DefaultLogLevel is used when the settings name no level.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	minCompressionLevel = 1
	maxCompressionLevel = 9
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidCompressionLevel is returned for levels outside 1..9.
	errInvalidCompressionLevel = errors.New("compression level must be between 1 and 9")
	// errInvalidWorkers is returned for a negative worker count.
	errInvalidWorkers = errors.New("workers must not be negative")
	// errInvalidLogLevel is returned for unknown level names.
	errInvalidLogLevel = errors.New("unknown log level")
)

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		DigestAlgorithm:   digest.DefaultAlgorithm,
		Compression:       container.DefaultCompression,
		CompressionLevel:  container.DefaultCompressionLevel,
		DeclarationFormat: codec.YAML.Name(),
		Workers:           DefaultWorkers,
		LogLevel:          DefaultLogLevel,
	}
}

// Load reads settings from path, fills defaults and validates them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset fields with defaults and rejects unknown values.
// Names are normalized to their canonical lowercase form.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.DigestAlgorithm == "" {
		cfg.DigestAlgorithm = digest.DefaultAlgorithm
	}

	alg, err := digest.ParseAlgorithm(cfg.DigestAlgorithm.String())
	if err != nil {
		return fmt.Errorf("digest_algorithm: %w", err)
	}

	cfg.DigestAlgorithm = alg

	if cfg.Compression == "" {
		cfg.Compression = container.DefaultCompression
	}

	compression, err := container.ParseCompression(cfg.Compression.String())
	if err != nil {
		return fmt.Errorf("compression: %w", err)
	}

	cfg.Compression = compression

	// Set default level if not specified
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = container.DefaultCompressionLevel
	}

	if cfg.CompressionLevel < minCompressionLevel || cfg.CompressionLevel > maxCompressionLevel {
		return fmt.Errorf("compression_level %d: %w", cfg.CompressionLevel, errInvalidCompressionLevel)
	}

	if cfg.DeclarationFormat == "" {
		cfg.DeclarationFormat = codec.YAML.Name()
	}

	c, err := codec.Lookup(cfg.DeclarationFormat)
	if err != nil {
		return fmt.Errorf("declaration_format: %w", err)
	}

	cfg.DeclarationFormat = c.Name()

	switch {
	case cfg.Workers < 0:
		return fmt.Errorf("workers %d: %w", cfg.Workers, errInvalidWorkers)
	case cfg.Workers == 0:
		cfg.Workers = DefaultWorkers
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("log_level %q: %w", cfg.LogLevel, errInvalidLogLevel)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return nil
}

// Codec returns the declaration codec named by the settings.
//
//nolint:ireturn // Codec is the abstraction callers work with.
func (c *Config) Codec() codec.Codec {
	found, err := codec.Lookup(c.DeclarationFormat)
	if err != nil {
		return codec.YAML
	}

	return found
}

// WriterOptions converts the settings into container writer options.
func (c *Config) WriterOptions() []container.WriterOption {
	return []container.WriterOption{
		container.WithCodec(c.Codec()),
		container.WithCompression(c.Compression),
		container.WithCompressionLevel(c.CompressionLevel),
		container.WithDefaultAlgorithm(c.DigestAlgorithm),
	}
}

// Overrides carries command-line values that take precedence over the file.
// Empty strings and zero numbers leave the file value in place.
type Overrides struct {
	DigestAlgorithm   string
	Compression       string
	CompressionLevel  int
	DeclarationFormat string
	Workers           int
	LogLevel          string
}

// Resolve loads the settings at path, or the defaults when the file does not
// exist, applies overrides and validates the result.
func Resolve(path string, overrides Overrides) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if overrides.DigestAlgorithm != "" {
		cfg.DigestAlgorithm = digest.Algorithm(overrides.DigestAlgorithm)
	}

	if overrides.Compression != "" {
		cfg.Compression = container.Compression(overrides.Compression)
	}

	if overrides.CompressionLevel != 0 {
		cfg.CompressionLevel = overrides.CompressionLevel
	}

	if overrides.DeclarationFormat != "" {
		cfg.DeclarationFormat = overrides.DeclarationFormat
	}

	if overrides.Workers != 0 {
		cfg.Workers = overrides.Workers
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
