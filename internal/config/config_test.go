package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing meta endpoint.
	cfg := new(Config)

	err := Validate(cfg)
	require.ErrorIs(t, err, errMetaURLRequired)

	// Missing content endpoint.
	cfg = &Config{
		MetaURL: "https://meta.example.com",
	}

	err = Validate(cfg)
	require.ErrorIs(t, err, errContentURLRequired)

	// Missing device id.
	cfg = &Config{
		MetaURL:    "https://meta.example.com",
		ContentURL: "https://content.example.com",
	}

	err = Validate(cfg)
	require.ErrorIs(t, err, errDeviceIDRequired)

	// Key without certificate.
	cfg = &Config{
		MetaURL:    "https://meta.example.com",
		ContentURL: "https://content.example.com",
		DeviceID:   "0123456789abcdef",
		KeyPath:    "client.key",
	}

	err = Validate(cfg)
	require.ErrorIs(t, err, errKeyWithoutCertificate)

	// Complete config gets defaults filled in.
	cfg = &Config{
		MetaURL:    "https://meta.example.com",
		ContentURL: "https://content.example.com",
		DeviceID:   "0123456789abcdef",
	}

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, DefaultParallelism, cfg.Parallelism)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		MetaURL:     "https://meta.example.com",
		ContentURL:  "https://content.example.com",
		DeviceID:    "0123456789abcdef",
		Parallelism: 8,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.MetaURL, loaded.MetaURL)
	require.Equal(t, cfg.ContentURL, loaded.ContentURL)
	require.Equal(t, cfg.DeviceID, loaded.DeviceID)
	require.Equal(t, 8, loaded.Parallelism)

	// File exists with restricted permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}
