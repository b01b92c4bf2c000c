package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the distribution-network parameters shared by all commands.
type Config struct {
	// MetaURL is the endpoint answering latest-update queries.
	MetaURL string `yaml:"meta_url"`
	// ContentURL is the endpoint serving metadata titles and content blobs.
	ContentURL string `yaml:"content_url"`
	// DeviceID is the console identifier sent with every CDN request.
	DeviceID string `yaml:"device_id"`
	// CertificatePath points to the PEM client certificate used for the
	// CDN TLS handshake. Optional: without it requests go out unauthenticated.
	CertificatePath string `yaml:"certificate"`
	// KeyPath points to the PEM private key matching CertificatePath.
	KeyPath string `yaml:"key"`
	// Parallelism is the worker count of the download engine, fixed at
	// engine construction.
	Parallelism int `yaml:"parallelism"`
	// Timeout is the per-request duration for network operations.
	Timeout time.Duration `yaml:"timeout"`
	// SelfUpdateURL is where the sysup release manifest is hosted.
	SelfUpdateURL string `yaml:"selfupdate_url"`
}

const (
	// DefaultConfigFilename is the default filename for CDN settings.
	DefaultConfigFilename = "sysup-settings.yaml"

	// DefaultParallelism is the download worker count when unset.
	DefaultParallelism = 4

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errMetaURLRequired is returned when the meta endpoint is missing.
	errMetaURLRequired = errors.New("meta endpoint URL must be provided")
	// errContentURLRequired is returned when the content endpoint is missing.
	errContentURLRequired = errors.New("content endpoint URL must be provided")
	// errDeviceIDRequired is returned when the device identifier is missing.
	errDeviceIDRequired = errors.New("device id must be provided")
	// errKeyWithoutCertificate is returned when only one half of the client
	// certificate pair is configured.
	errKeyWithoutCertificate = errors.New("certificate and key must be provided together")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
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

	// Restrict permissions: the file references the client certificate.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// and fills in defaults for optional ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.MetaURL == "" {
		return errMetaURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.MetaURL); err != nil {
		return fmt.Errorf("invalid meta endpoint URL: %w", err)
	}

	if cfg.ContentURL == "" {
		return errContentURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.ContentURL); err != nil {
		return fmt.Errorf("invalid content endpoint URL: %w", err)
	}

	if cfg.DeviceID == "" {
		return errDeviceIDRequired
	}

	if (cfg.CertificatePath == "") != (cfg.KeyPath == "") {
		return errKeyWithoutCertificate
	}

	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.SelfUpdateURL != "" {
		if _, err := url.ParseRequestURI(cfg.SelfUpdateURL); err != nil {
			return fmt.Errorf("invalid self-update URL: %w", err)
		}
	}

	return nil
}
