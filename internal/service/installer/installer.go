package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/logger"
	"github.com/oshokin/mcp-installer/internal/service/common"
	"github.com/oshokin/mcp-installer/internal/service/extractor"
	"github.com/oshokin/mcp-installer/internal/service/fetcher"
	"github.com/oshokin/mcp-installer/internal/service/integrity"
	"github.com/oshokin/mcp-installer/internal/service/postinstall"
	"github.com/oshokin/mcp-installer/internal/service/requirements"
)

// Stage failures. Every error returned by Run wraps exactly one of them.
var (
	ErrRequirements = errors.New("requirements not met")
	ErrTransport    = errors.New("transport error")
	ErrIntegrity    = errors.New("integrity error")
	ErrArchive      = errors.New("archive error")
	ErrCommand      = errors.New("post-install command error")
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// Config is the pinned configuration. Nil means config.Default().
	Config *config.Config
	// Dir overrides Config.InstallDir when not empty.
	Dir string
	// HTTPClient replaces the download client.
	HTTPClient *http.Client
	// Runner executes external commands. Nil means the real process runner.
	Runner common.CommandRunner
	// CheckOnly stops after the requirement check.
	CheckOnly bool
}

// Result summarizes what a run did.
type Result struct {
	// Requirements holds one entry per configured requirement.
	Requirements []requirements.Result
	// InstallDir is where the archive and the extracted tree live.
	InstallDir string
	// ArchivePath is the verified archive.
	ArchivePath string
	// ExtractedDir is the unpacked release.
	ExtractedDir string
	// Downloaded is true when the archive was fetched in this run.
	Downloaded bool
	// Extracted is true when the archive was unpacked in this run.
	Extracted bool
	// PostInstalled is true when post-install commands ran in this run.
	PostInstalled bool
}

// runner holds the collaborators of a single installation.
type runner struct {
	cfg       *config.Config
	dir       string
	checker   *requirements.Checker
	fetcher   *fetcher.Fetcher
	postSetup *postinstall.Runner
}

// Run executes the installation pipeline: requirements, fetch and verify,
// extract, post-install. The first failing stage stops the run.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "mcp-installer")

	if opts == nil {
		opts = &Options{}
	}

	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	warnIfAlreadyRunning(ctx)

	started := time.Now()

	result, err := r.run(ctx, opts.CheckOnly)
	if err != nil {
		logger.ErrorKV(ctx, "Installation failed", "error", err)

		return result, err
	}

	if !opts.CheckOnly {
		logger.InfoKV(ctx, "Installation completed", "dir", result.ExtractedDir, "took", time.Since(started).Round(time.Millisecond))
	}

	return result, nil
}

func newRunner(opts *Options) (*runner, error) {
	cfg := config.Default()
	if opts.Config != nil {
		copied := *opts.Config
		// Validate fills defaults in place, so the slices must not be shared with the caller.
		copied.Requirements = slices.Clone(copied.Requirements)
		copied.PostInstall.Steps = slices.Clone(copied.PostInstall.Steps)
		cfg = &copied
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	if opts.Dir != "" {
		cfg.InstallDir = opts.Dir
	}

	dir, err := cfg.ResolveInstallDir()
	if err != nil {
		return nil, err
	}

	commands := opts.Runner
	if commands == nil {
		commands = common.NewExecRunner()
	}

	verifier := integrity.NewVerifier(cfg.SHA256, cfg.ChunkSize)

	return &runner{
		cfg:       cfg,
		dir:       dir,
		checker:   requirements.NewChecker(commands),
		fetcher:   fetcher.New(cfg, verifier, fetcher.WithHTTPClient(opts.HTTPClient)),
		postSetup: postinstall.New(commands, cfg.PostInstall),
	}, nil
}

func (r *runner) run(ctx context.Context, checkOnly bool) (*Result, error) {
	result := &Result{InstallDir: r.dir}

	logger.Info(ctx, "Checking requirements")

	reqResults, ok := r.checker.Check(ctx, r.cfg.Requirements)
	result.Requirements = reqResults

	if !ok {
		return result, fmt.Errorf("%w: %s", ErrRequirements, unmetSummary(reqResults))
	}

	if checkOnly {
		return result, nil
	}

	logger.InfoKV(ctx, "Fetching archive", "dir", r.dir)

	fetched, err := r.fetcher.Fetch(ctx, r.dir)
	if err != nil {
		return result, classifyFetchError(err)
	}

	result.ArchivePath = fetched.Path
	result.Downloaded = fetched.Downloaded

	extracted, err := extractor.Extract(ctx, fetched.Path)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	result.ExtractedDir = extracted.Dir
	result.Extracted = extracted.Extracted

	setup, err := r.postSetup.Run(ctx, extracted.Dir)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrCommand, err)
	}

	result.PostInstalled = !setup.Skipped

	return result, nil
}

// classifyFetchError maps fetcher failures to stage sentinels.
func classifyFetchError(err error) error {
	if errors.Is(err, integrity.ErrMismatch) {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	// Local filesystem failures while storing the archive count as transport errors too.
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func unmetSummary(results []requirements.Result) string {
	unmet := make([]string, 0, len(results))

	for _, result := range results {
		if !result.Met {
			unmet = append(unmet, result.Message)
		}
	}

	return strings.Join(unmet, "; ")
}

// warnIfAlreadyRunning logs a warning when another installer process is alive.
// Concurrent runs share the install directory and may race on it.
func warnIfAlreadyRunning(ctx context.Context) {
	executable, err := os.Executable()
	if err != nil {
		return
	}

	name := filepath.Base(executable)

	processList, err := ps.Processes()
	if err != nil {
		logger.DebugKV(ctx, "Unable to list processes", "error", err)

		return
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID || process.Executable() != name {
			continue
		}

		logger.WarnKV(ctx, "Another installer process is running, results may be unpredictable",
			"pid", process.Pid(),
			"executable", name)

		return
	}
}
