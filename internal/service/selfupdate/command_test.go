package selfupdate

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestNeedsUpdate covers the version comparison decision.
func TestNeedsUpdate(t *testing.T) {
	t.Parallel()

	needed, err := needsUpdate("0.1.0", "0.2.0")
	require.NoError(t, err)
	require.True(t, needed)

	needed, err = needsUpdate("0.2.0", "0.2.0")
	require.NoError(t, err)
	require.False(t, needed)

	needed, err = needsUpdate("1.0.0", "0.9.9")
	require.NoError(t, err)
	require.False(t, needed)

	_, err = needsUpdate("not-a-version", "0.2.0")
	require.Error(t, err)
}

// TestManifestDecoding ensures the YAML manifest unmarshals into the
// expected shape and resolves the current platform's binary.
func TestManifestDecoding(t *testing.T) {
	t.Parallel()

	raw := `
version: 0.2.0
binaries:
  linux: sysup-linux
  darwin: sysup-darwin
  windows: sysup.exe
checksums:
  sysup-linux: c2hhNTEyLWxpbnV4
  sysup-darwin: c2hhNTEyLWRhcndpbg==
  sysup.exe: c2hhNTEyLXdpbmRvd3M=
`

	var manifest Manifest
	require.NoError(t, yaml.Unmarshal([]byte(raw), &manifest))
	require.Equal(t, "0.2.0", manifest.VersionNumber)

	name, err := manifest.BinaryForPlatform()
	require.NoError(t, err)
	require.Equal(t, manifest.Binaries[runtime.GOOS], name)

	_, ok := manifest.Checksums[name]
	require.True(t, ok)
}

// TestBinaryForPlatformMissing verifies the error when the manifest lacks
// an entry for this platform.
func TestBinaryForPlatformMissing(t *testing.T) {
	t.Parallel()

	manifest := &Manifest{
		VersionNumber: "0.2.0",
		Binaries:      map[string]string{"plan9": "sysup-plan9"},
	}

	if runtime.GOOS == "plan9" {
		t.Skip("manifest accidentally matches the platform")
	}

	_, err := manifest.BinaryForPlatform()
	require.ErrorIs(t, err, errNoPlatformBinary)
}
