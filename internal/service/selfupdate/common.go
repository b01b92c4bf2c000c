package selfupdate

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/mitchellh/go-ps"

	"github.com/nxkit/sysup/internal/logger"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

const (
	// ManifestFilename stores the release manifest on the update server.
	ManifestFilename = "sysup-release.yaml"

	// MarkerFilename marks that a self-update is running right now to
	// avoid parallel execution.
	MarkerFilename = "sysup-update-marker.bin"

	// DefaultChecksumFunction is used to verify the downloaded binary.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// markerLifetime is the period after which a stale marker is ignored.
	markerLifetime = 30 * time.Second

	// binaryBaseName is the executable name without platform extension.
	binaryBaseName = "sysup"
)

var errNoPlatformBinary = errors.New("manifest has no binary for this platform")

// Manifest describes a published sysup release.
type Manifest struct {
	// VersionNumber is the semantic version of this release.
	VersionNumber string `yaml:"version"`
	// Binaries maps GOOS names to release file names.
	Binaries map[string]string `yaml:"binaries"`
	// Checksums maps release file names to their base64-encoded SHA-512.
	Checksums map[string]string `yaml:"checksums"`
}

// BinaryForPlatform returns the release file name for the current platform.
func (m *Manifest) BinaryForPlatform() (string, error) {
	name, ok := m.Binaries[runtime.GOOS]
	if !ok {
		return "", fmt.Errorf("%s: %w", runtime.GOOS, errNoPlatformBinary)
	}

	return name, nil
}

// needsUpdate reports whether the remote release is newer than the local
// build.
func needsUpdate(localVersion, remoteVersion string) (bool, error) {
	local, err := goversion.NewVersion(localVersion)
	if err != nil {
		return false, fmt.Errorf("parse local version: %w", err)
	}

	remote, err := goversion.NewVersion(remoteVersion)
	if err != nil {
		return false, fmt.Errorf("parse remote version: %w", err)
	}

	return remote.GreaterThan(local), nil
}

// IsRunningNow checks presence of a marker file and attempts recovery if it
// looks stale and no other sysup process is alive.
func IsRunningNow(ctx context.Context) bool {
	fileInfo, err := os.Stat(MarkerFilename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false
		}

		logger.Infof(ctx, "Unable to read update marker: %v", err)

		return false
	}

	if time.Since(fileInfo.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "The update marker is too old, attempting cleanup")

	if anotherInstanceAlive() {
		return true
	}

	if err = os.Remove(MarkerFilename); err != nil {
		return true
	}

	return false
}

// anotherInstanceAlive scans the process list for a second sysup process.
func anotherInstanceAlive() bool {
	processList, err := ps.Processes()
	if err != nil {
		// Can't tell; assume the marker is honest.
		return true
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		name := strings.TrimSuffix(process.Executable(), ".exe")
		if name == binaryBaseName {
			return true
		}
	}

	return false
}
