package update

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nxkit/sysup/internal/cdn"
	domain "github.com/nxkit/sysup/internal/domain/update"
)

// fakeEngine is a deterministic download engine: it serves canned payloads
// and invokes the callbacks concurrently, the way the real worker pool does.
type fakeEngine struct {
	descriptor  *domain.Update
	metaEntries []domain.MetaEntry
	contents    []domain.ContentEntry
	metaData    map[uint64][]byte
	contentData map[string][]byte

	// gotMetaEntries captures what the orchestrator asked to download.
	gotMetaEntries []domain.MetaEntry

	contentErr error
}

func (e *fakeEngine) LatestUpdate(context.Context) (*domain.Update, error) {
	return e.descriptor, nil
}

func (e *fakeEngine) LatestVersion(context.Context) (domain.Version, error) {
	return e.descriptor.Version, nil
}

func (e *fakeEngine) ContentEntries([]byte) ([]domain.MetaEntry, error) {
	return e.metaEntries, nil
}

func (e *fakeEngine) DownloadMeta(_ context.Context, entries []domain.MetaEntry,
	onMeta cdn.MetaHandler,
) ([]domain.ContentEntry, error) {
	e.gotMetaEntries = entries

	var group errgroup.Group
	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			return onMeta(e.metaData[entry.TitleID], entry.TitleID, fmt.Sprintf("meta-%016x", entry.TitleID), entry.Version)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return e.contents, nil
}

func (e *fakeEngine) DownloadContent(_ context.Context, entries []domain.ContentEntry,
	onContent cdn.ContentHandler,
) error {
	if e.contentErr != nil {
		return e.contentErr
	}

	var group errgroup.Group
	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			return onContent(e.contentData[entry.ID], entry.ID)
		})
	}

	return group.Wait()
}

// newFakeEngine builds an engine with two metadata titles and three contents.
func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		descriptor: &domain.Update{
			TitleID:   0x0100000000000816,
			Version:   domain.Version(16<<26 | 1<<20 | 3),
			ContentID: "descriptor",
			Payload:   []byte("descriptor-payload"),
		},
		metaEntries: []domain.MetaEntry{
			{TitleID: 0x0100000000000809, Version: 1},
			{TitleID: 0x010000000000080A, Version: 1},
		},
		contents: []domain.ContentEntry{
			{ID: "c1", Size: 1},
			{ID: "c2", Size: 2},
			{ID: "c3", Size: 3},
		},
		metaData: map[uint64][]byte{
			0x0100000000000809: []byte("meta-09"),
			0x010000000000080A: []byte("meta-0a"),
		},
		contentData: map[string][]byte{
			"c1": []byte("content-1"),
			"c2": []byte("content-2"),
			"c3": []byte("content-3"),
		},
	}
}

// acceptAll is a Confirmer that always accepts.
func acceptAll(string) (bool, error) { return true, nil }

// TestRunFullUpdate drives the whole pipeline and checks the resulting
// output set: one descriptor meta, one meta per title, one file per content.
func TestRunFullUpdate(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	outputDir := filepath.Join(t.TempDir(), "update")
	opts := &Options{OutputDir: outputDir}

	out := new(bytes.Buffer)

	r, err := newRunner(engine, opts, acceptAll, out)
	require.NoError(t, err)
	require.NoError(t, r.run(context.Background(), opts))

	// 1 descriptor + 2 title metas + 3 contents.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	for _, name := range []string{
		"descriptor.cnmt.nca",
		"meta-0100000000000809.cnmt.nca",
		"meta-010000000000080a.cnmt.nca",
		"c1.nca", "c2.nca", "c3.nca",
	} {
		_, statErr := os.Stat(filepath.Join(outputDir, name))
		require.NoError(t, statErr, name)
	}

	got, err := os.ReadFile(filepath.Join(outputDir, "c2.nca"))
	require.NoError(t, err)
	require.Equal(t, []byte("content-2"), got)

	// Both phase reporters rendered and completed.
	require.Contains(t, out.String(), "0 / 2")
	require.Contains(t, out.String(), "0 / 3")
	require.Contains(t, out.String(), "Done.")
	require.Nil(t, r.reporter)
}

// TestTitleFilterNarrowsMetaPhase verifies filtering removes entries before
// the meta phase and the engine only sees the accepted titles.
func TestTitleFilterNarrowsMetaPhase(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.metaEntries = append(engine.metaEntries, domain.MetaEntry{TitleID: 0x010000000000080B, Version: 1})

	outputDir := filepath.Join(t.TempDir(), "update")
	opts := &Options{
		OutputDir:   outputDir,
		TitleFilter: []string{"010000000000080A"},
	}

	r, err := newRunner(engine, opts, acceptAll, nil)
	require.NoError(t, err)
	require.NoError(t, r.run(context.Background(), opts))

	require.Equal(t, []domain.MetaEntry{{TitleID: 0x010000000000080A, Version: 1}}, engine.gotMetaEntries)

	// Only the accepted title's meta was stored.
	_, err = os.Stat(filepath.Join(outputDir, "meta-010000000000080a.cnmt.nca"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outputDir, "meta-0100000000000809.cnmt.nca"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestDeclinedOverwriteLeavesDirectoryUntouched checks the abort path: a
// decline terminates the run before anything is written.
func TestDeclinedOverwriteLeavesDirectoryUntouched(t *testing.T) {
	t.Parallel()

	outputDir := t.TempDir()
	keep := filepath.Join(outputDir, "keep.bin")
	require.NoError(t, os.WriteFile(keep, []byte("precious"), 0o644))

	engine := newFakeEngine()
	opts := &Options{OutputDir: outputDir}

	decline := func(string) (bool, error) { return false, nil }

	r, err := newRunner(engine, opts, decline, nil)
	require.NoError(t, err)

	err = r.run(context.Background(), opts)
	require.ErrorIs(t, err, ErrOverwriteDeclined)

	// Directory contents are byte-for-byte unchanged and nothing new exists.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := os.ReadFile(keep)
	require.NoError(t, err)
	require.Equal(t, []byte("precious"), got)
}

// TestIgnoreWarningsRecreatesDirectory verifies non-interactive mode clears
// the directory without consulting the confirmer.
func TestIgnoreWarningsRecreatesDirectory(t *testing.T) {
	t.Parallel()

	outputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "stale.nca"), []byte("old"), 0o644))

	engine := newFakeEngine()
	opts := &Options{OutputDir: outputDir, IgnoreWarnings: true}

	neverAsk := func(string) (bool, error) {
		panic("confirmer must not be consulted in ignore-warnings mode")
	}

	r, err := newRunner(engine, opts, neverAsk, nil)
	require.NoError(t, err)
	require.NoError(t, r.run(context.Background(), opts))

	_, err = os.Stat(filepath.Join(outputDir, "stale.nca"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestEngineFailureSurfacesAndKeepsPartialFiles: a fatal content-phase
// failure aborts the run, and files already written stay on disk.
func TestEngineFailureSurfacesAndKeepsPartialFiles(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.contentErr = errors.New("network is down")

	outputDir := filepath.Join(t.TempDir(), "update")
	opts := &Options{OutputDir: outputDir}

	r, err := newRunner(engine, opts, acceptAll, nil)
	require.NoError(t, err)

	err = r.run(context.Background(), opts)
	require.ErrorContains(t, err, "network is down")

	// Descriptor and meta phase output survive the failed run.
	_, err = os.Stat(filepath.Join(outputDir, "descriptor.cnmt.nca"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outputDir, "meta-0100000000000809.cnmt.nca"))
	require.NoError(t, err)
}

// TestDefaultOutputDirIsDeterministic pins the derived directory name to the
// version value and build number.
func TestDefaultOutputDirIsDeterministic(t *testing.T) {
	t.Parallel()

	v := domain.Version(16<<26 | 1<<20 | 3)

	require.Equal(t, "sysupdate-16.1.0-bn3", DefaultOutputDir(v))
	require.Equal(t, DefaultOutputDir(v), DefaultOutputDir(v))
}

// TestInvalidTitleFilterRejected ensures a malformed filter fails fast.
func TestInvalidTitleFilterRejected(t *testing.T) {
	t.Parallel()

	_, err := newRunner(newFakeEngine(), &Options{TitleFilter: []string{"not-hex"}}, acceptAll, nil)
	require.Error(t, err)
}
