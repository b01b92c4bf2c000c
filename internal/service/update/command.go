package update

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/nxkit/sysup/internal/cdn"
	"github.com/nxkit/sysup/internal/config"
	domain "github.com/nxkit/sysup/internal/domain/update"
	"github.com/nxkit/sysup/internal/logger"
	"github.com/nxkit/sysup/internal/progress"
	"github.com/nxkit/sysup/internal/repository/files"
)

// ErrOverwriteDeclined is returned when the operator refuses to overwrite an
// existing output directory. It is a deliberate choice, not a failure, and
// maps to a distinct exit code at the CLI boundary.
var ErrOverwriteDeclined = errors.New("output directory overwrite declined")

// Options are inputs accepted by the orchestrator entry points.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// OutputDir overrides the derived output directory when non-empty.
	OutputDir string
	// TitleFilter narrows the metadata titles to download; hex title ids.
	// Empty means download everything.
	TitleFilter []string
	// IgnoreWarnings overwrites an existing output directory without
	// prompting.
	IgnoreWarnings bool
}

// Engine is the download-engine contract consumed by the orchestrator.
// Callbacks are invoked once per completed item, possibly concurrently from
// the engine's workers; both Download operations return only after every
// scheduled download has finished or a fatal failure aborted the rest.
type Engine interface {
	LatestUpdate(ctx context.Context) (*domain.Update, error)
	LatestVersion(ctx context.Context) (domain.Version, error)
	ContentEntries(payload []byte) ([]domain.MetaEntry, error)
	DownloadMeta(ctx context.Context, entries []domain.MetaEntry, onMeta cdn.MetaHandler) ([]domain.ContentEntry, error)
	DownloadContent(ctx context.Context, entries []domain.ContentEntry, onContent cdn.ContentHandler) error
}

// ConfirmFunc asks the operator a yes/no question. Injected so the prompt
// can be stubbed deterministically in tests.
type ConfirmFunc func(prompt string) (bool, error)

// runner holds the state of a single retrieval run. The orchestrator's own
// control flow is single-threaded and phase-sequential; only the engine's
// workers run concurrently, and they touch the runner solely through the
// completion callbacks.
type runner struct {
	engine  Engine
	store   *files.Store
	confirm ConfirmFunc
	// progressOut receives progress renders; nil disables progress.
	progressOut io.Writer
	// reporter is the active phase's reporter. It is set before a phase's
	// workers start and cleared after the phase's wait returns, so the
	// callbacks only ever observe a stable value.
	reporter *progress.Reporter
	// filter is the set of accepted title ids; empty accepts everything.
	filter map[uint64]struct{}
}

// Run executes the full retrieval pipeline and is the entry point behind the
// getLatest command.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sysup")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	engine, err := cdn.NewClient(cfg)
	if err != nil {
		return err
	}

	r, err := newRunner(engine, opts, stdinConfirm, progressWriter())
	if err != nil {
		return err
	}

	return r.run(ctx, opts)
}

// PrintLatestVersion fetches the latest update summary and prints its parsed
// version triple. Read-only; no storage side effects.
func PrintLatestVersion(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sysup")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	engine, err := cdn.NewClient(cfg)
	if err != nil {
		return err
	}

	version, err := engine.LatestVersion(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Latest version: %s (build %d)\n", version, version.BuildNumber())

	return nil
}

// DefaultOutputDir derives the output directory name from the descriptor's
// version value and build number. Same inputs always yield the same name.
func DefaultOutputDir(version domain.Version) string {
	return fmt.Sprintf("sysupdate-%s-bn%d", version, version.BuildNumber())
}

// newRunner validates the options and assembles a run.
func newRunner(engine Engine, opts *Options, confirm ConfirmFunc, progressOut io.Writer) (*runner, error) {
	filter := make(map[uint64]struct{}, len(opts.TitleFilter))

	for _, raw := range opts.TitleFilter {
		titleID, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse title filter %q: %w", raw, err)
		}

		filter[titleID] = struct{}{}
	}

	return &runner{
		engine:      engine,
		confirm:     confirm,
		progressOut: progressOut,
		filter:      filter,
	}, nil
}

// run drives the pipeline: descriptor, output directory, meta phase, content
// phase. The meta phase fully completes before the content phase starts.
func (r *runner) run(ctx context.Context, opts *Options) error {
	logger.Info(ctx, "Resolving latest update")

	descriptor, err := r.engine.LatestUpdate(ctx)
	if err != nil {
		return fmt.Errorf("resolve latest update: %w", err)
	}

	logger.InfoKV(ctx, "Latest update resolved",
		"version", descriptor.Version.String(),
		"build_number", descriptor.Version.BuildNumber())

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir(descriptor.Version)
	}

	r.store = files.NewStore(outputDir)

	if err = r.resolveOutputDir(ctx, opts.IgnoreWarnings); err != nil {
		return err
	}

	// The descriptor is written before any phase so it survives even if
	// every subsequent download fails.
	if err = r.store.Write(descriptor.ContentID, true, descriptor.Payload); err != nil {
		return fmt.Errorf("persist descriptor: %w", err)
	}

	entries, err := r.engine.ContentEntries(descriptor.Payload)
	if err != nil {
		return fmt.Errorf("parse content entries: %w", err)
	}

	entries = r.filterEntries(ctx, entries)

	logger.InfoKV(ctx, "Downloading metadata titles", "count", len(entries))

	contents, err := r.metaPhase(ctx, entries)
	if err != nil {
		return fmt.Errorf("download metadata titles: %w", err)
	}

	logger.InfoKV(ctx, "Downloading contents", "count", len(contents))

	if err = r.contentPhase(ctx, contents); err != nil {
		return fmt.Errorf("download contents: %w", err)
	}

	logger.InfoKV(ctx, "Update downloaded",
		"version", descriptor.Version.String(),
		"directory", r.store.Root())

	return nil
}

// resolveOutputDir creates the output directory, clearing an existing one
// only with the operator's consent (or unconditionally in ignore-warnings
// mode). This runs once, before any concurrent writes.
func (r *runner) resolveOutputDir(ctx context.Context, ignoreWarnings bool) error {
	exists, err := r.store.RootExists()
	if err != nil {
		return err
	}

	if !exists {
		return r.store.CreateRoot()
	}

	if !ignoreWarnings {
		accepted, err := r.confirm(fmt.Sprintf("Directory %s already exists. Overwrite? [y/N]: ", r.store.Root()))
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}

		if !accepted {
			return ErrOverwriteDeclined
		}
	}

	logger.InfoKV(ctx, "Recreating existing output directory", "directory", r.store.Root())

	return r.store.ResetRoot()
}

// filterEntries narrows the entry set to the accepted titles. It removes
// entries only; the descriptor is never mutated or re-fetched.
func (r *runner) filterEntries(ctx context.Context, entries []domain.MetaEntry) []domain.MetaEntry {
	if len(r.filter) == 0 {
		return entries
	}

	kept := make([]domain.MetaEntry, 0, len(entries))

	for _, entry := range entries {
		if _, ok := r.filter[entry.TitleID]; ok {
			kept = append(kept, entry)
		}
	}

	logger.InfoKV(ctx, "Applied title filter", "kept", len(kept), "total", len(entries))

	return kept
}

// metaPhase downloads every metadata title, reporting progress, and returns
// the content entries the downloaded metas referenced.
func (r *runner) metaPhase(ctx context.Context, entries []domain.MetaEntry) ([]domain.ContentEntry, error) {
	reporter := r.startPhase(len(entries))

	contents, err := r.engine.DownloadMeta(ctx, entries, r.onMeta)

	r.endPhase(reporter, err)

	return contents, err
}

// contentPhase downloads every content blob, reporting progress.
func (r *runner) contentPhase(ctx context.Context, entries []domain.ContentEntry) error {
	reporter := r.startPhase(len(entries))

	err := r.engine.DownloadContent(ctx, entries, r.onContent)

	r.endPhase(reporter, err)

	return err
}

// startPhase installs a fresh reporter sized to the phase. Returns nil when
// progress is disabled (stdout is not a terminal).
func (r *runner) startPhase(total int) *progress.Reporter {
	if r.progressOut == nil {
		return nil
	}

	reporter := progress.NewReporter(r.progressOut, total)
	r.reporter = reporter

	return reporter
}

// endPhase discards the active reporter. Completion is only rendered on
// success; on failure the run aborts and the partial counter stays visible.
func (r *runner) endPhase(reporter *progress.Reporter, err error) {
	r.reporter = nil

	if reporter != nil && err == nil {
		reporter.Complete()
	}
}

// onMeta persists one downloaded metadata title and advances progress.
// Safe under concurrent invocation: distinct items never share a path and
// the reporter increment is atomic.
func (r *runner) onMeta(data []byte, _ uint64, contentID string, _ domain.Version) error {
	if err := r.store.Write(contentID, true, data); err != nil {
		return err
	}

	if reporter := r.reporter; reporter != nil {
		reporter.Increment()
	}

	return nil
}

// onContent persists one downloaded content blob and advances progress.
func (r *runner) onContent(data []byte, contentID string) error {
	if err := r.store.Write(contentID, false, data); err != nil {
		return err
	}

	if reporter := r.reporter; reporter != nil {
		reporter.Increment()
	}

	return nil
}

// progressWriter enables progress only when stdout is a terminal.
func progressWriter() io.Writer {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return os.Stdout
	}

	return nil
}

// stdinConfirm asks the operator for a single-character confirmation on
// stdin. Anything other than "y" declines.
func stdinConfirm(prompt string) (bool, error) {
	fmt.Print(prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}
