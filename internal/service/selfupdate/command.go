package selfupdate

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	goupdate "github.com/doitdistributed/go-update"
	"gopkg.in/yaml.v3"

	"github.com/nxkit/sysup/internal/config"
	"github.com/nxkit/sysup/internal/logger"
	"github.com/nxkit/sysup/internal/version"
)

var (
	errAlreadyRunning   = errors.New("a self-update is already running")
	errNoSelfUpdateURL  = errors.New("selfupdate_url is not configured")
	errNoChecksum       = errors.New("checksum missing for file")
	errBadHTTPStatus    = errors.New("unexpected http status")
	errManifestNoFields = errors.New("release manifest is missing required fields")
)

// Options are inputs accepted by the self-update entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Force applies the published release even when it is not newer.
	Force bool
}

// runner holds the state of a single self-update execution.
type runner struct {
	cfg      *config.Config
	manifest *Manifest
}

// Run executes the self-update lifecycle and is the public entry point for
// the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sysup-selfupdate")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.run(ctx, opts); err != nil {
		logger.ErrorKV(ctx, "Self-update failed", "error", err)
		return err
	}

	return nil
}

// newRunner prepares the run and writes a marker to avoid concurrent runs.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if IsRunningNow(ctx) {
		return nil, errAlreadyRunning
	}

	marker, err := os.Create(MarkerFilename)
	if err != nil {
		return nil, err
	}

	if err = marker.Close(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if cfg.SelfUpdateURL == "" {
		return nil, errNoSelfUpdateURL
	}

	return &runner{cfg: cfg}, nil
}

// run fetches the manifest, decides whether an update is needed and applies
// the new binary.
func (r *runner) run(ctx context.Context, opts *Options) error {
	logger.Info(ctx, "Fetching release manifest")

	if err := r.fetchManifest(ctx); err != nil {
		return fmt.Errorf("fetch release manifest: %w", err)
	}

	updateNeeded, err := needsUpdate(version.Short(), r.manifest.VersionNumber)
	if err != nil {
		return err
	}

	if !updateNeeded && !opts.Force {
		logger.InfoKV(ctx, "Already up to date", "version", version.Short())
		return nil
	}

	logger.InfoKV(ctx, "Applying release",
		"local", version.Short(), "remote", r.manifest.VersionNumber)

	if err = r.applyRelease(ctx); err != nil {
		return fmt.Errorf("apply release: %w", err)
	}

	logger.InfoKV(ctx, "Self-update complete", "version", r.manifest.VersionNumber)

	return nil
}

// fetchManifest downloads and decodes the release manifest.
func (r *runner) fetchManifest(ctx context.Context) error {
	data, err := r.fetchFromServer(ctx, ManifestFilename)
	if err != nil {
		return err
	}

	var manifest Manifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return err
	}

	if manifest.VersionNumber == "" || len(manifest.Binaries) == 0 {
		return errManifestNoFields
	}

	r.manifest = &manifest

	return nil
}

// applyRelease downloads the platform binary, verifies its checksum and
// swaps the running executable.
func (r *runner) applyRelease(ctx context.Context) error {
	fileName, err := r.manifest.BinaryForPlatform()
	if err != nil {
		return err
	}

	checksumBase64, ok := r.manifest.Checksums[fileName]
	if !ok {
		return fmt.Errorf("%s: %w", fileName, errNoChecksum)
	}

	checksum, err := base64.StdEncoding.DecodeString(checksumBase64)
	if err != nil {
		return err
	}

	data, err := r.fetchFromServer(ctx, fileName)
	if err != nil {
		return err
	}

	options := goupdate.Options{
		Checksum: checksum,
		Hash:     DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return err
	}

	// Drop the backup the apply step leaves behind.
	executable, err := os.Executable()
	if err == nil {
		_ = os.Remove(executable + ".old")
	}

	return nil
}

// fetchFromServer downloads one file from the release folder.
func (r *runner) fetchFromServer(ctx context.Context, fileName string) ([]byte, error) {
	releaseURL, err := url.Parse(r.cfg.SelfUpdateURL)
	if err != nil {
		return nil, err
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	releaseURL.Path = path.Join(releaseURL.Path, fileName)
	finalURL := releaseURL.String()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: r.cfg.Timeout}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(response.Body)
}

// cleanup removes the run marker.
func (r *runner) cleanup(ctx context.Context) {
	if err := os.Remove(MarkerFilename); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf(ctx, "Unable to remove update marker: %v", err)
	}
}
