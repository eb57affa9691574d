package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Config holds every pinned value of the installation pipeline.
type Config struct {
	// SourceURL is the HTTPS address of the release archive.
	SourceURL string `yaml:"source_url"`
	// SHA256 is the expected lowercase hex digest of the archive.
	SHA256 string `yaml:"sha256"`
	// UserAgent is sent with the download request.
	UserAgent string `yaml:"user_agent"`
	// InstallDir is where the archive is stored and unpacked.
	// Empty means the directory of the installer executable.
	InstallDir string `yaml:"install_dir,omitempty"`
	// Timeout bounds the whole download request.
	Timeout time.Duration `yaml:"timeout"`
	// ChunkSize is the read buffer size for downloading and hashing.
	ChunkSize int `yaml:"chunk_size"`
	// ProgressInterval is the number of bytes between two progress lines.
	ProgressInterval int64 `yaml:"progress_interval"`
	// Requirements lists the external runtimes that must be present.
	Requirements []Requirement `yaml:"requirements"`
	// PostInstall describes the commands run inside the extracted directory.
	PostInstall PostInstall `yaml:"post_install"`
}

// Requirement is a command that must report at least MinVersion.
type Requirement struct {
	Command     string `yaml:"command"`
	MinVersion  string `yaml:"min_version"`
	VersionFlag string `yaml:"version_flag,omitempty"`
}

// PostInstall is the set of commands run after extraction.
type PostInstall struct {
	// Steps are executed in order; the first failure aborts the rest.
	Steps []Step `yaml:"steps"`
	// Artifact is a path relative to the extracted directory that must exist
	// once all steps succeeded. Empty disables the check.
	Artifact string `yaml:"artifact,omitempty"`
	// Marker is the sentinel file created after a successful post-install.
	Marker string `yaml:"marker"`
	// CommandTimeout bounds each step. Zero means no limit.
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
}

// Step is one external command.
type Step struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// String renders the step as a shell-like command line.
func (s Step) String() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

const (
	// DefaultConfigFilename is looked up next to the working directory when no --config is given.
	DefaultConfigFilename = "mcp-installer.yaml"

	// DefaultSourceURL is the pinned web-search-mcp release asset.
	DefaultSourceURL = "https://github.com/mrkrsl/web-search-mcp/releases/download/v0.3.2/web-search-mcp-v0.3.2.zip"

	// DefaultSHA256 is the pinned digest of DefaultSourceURL.
	DefaultSHA256 = "1d8a2aeeda4c927fe513aea6e2f8e5775ac661ec0a15b1cab4d6d617e48dd27e"

	// DefaultUserAgent avoids naive bot blocking on the release CDN.
	DefaultUserAgent = "Mozilla/5.0 (compatible; web-search-mcp-installer)"

	// DefaultTimeout is the default download timeout.
	DefaultTimeout = 5 * time.Minute

	// DefaultChunkSize is the read buffer size for downloads and hashing.
	DefaultChunkSize = 8 * 1024

	// DefaultProgressInterval is 100 KiB.
	DefaultProgressInterval int64 = 100 * 1024

	// DefaultMarker is created inside the extracted directory after post-install.
	DefaultMarker = ".setup_complete"

	// DefaultArtifact must exist after post-install.
	DefaultArtifact = "dist/index.js"

	// DefaultVersionFlag is passed to requirement commands.
	DefaultVersionFlag = "--version"

	// DefaultFilePermissions is the permission of the saved config file.
	DefaultFilePermissions = 0o600

	sha256HexLength = 64
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidSourceURL is returned for non-https or unparsable source URLs.
	errInvalidSourceURL = errors.New("source url must be an absolute https url")
	// errInvalidDigest is returned when the pinned digest is not lowercase hex SHA-256.
	errInvalidDigest = errors.New("sha256 must be 64 lowercase hex characters")
	// errNoRequirements is returned for an empty requirement list.
	errNoRequirements = errors.New("at least one requirement must be configured")
	// errInvalidRequirement is returned for a requirement without command or with a bad version.
	errInvalidRequirement = errors.New("invalid requirement")
	// errInvalidStep is returned for a post-install step without a command.
	errInvalidStep = errors.New("invalid post-install step")
	// errInvalidMarker is returned when the marker escapes the extracted directory.
	errInvalidMarker = errors.New("marker must be a plain file name")
)

// Default returns the pinned installer configuration.
func Default() *Config {
	return &Config{
		SourceURL:        DefaultSourceURL,
		SHA256:           DefaultSHA256,
		UserAgent:        DefaultUserAgent,
		Timeout:          DefaultTimeout,
		ChunkSize:        DefaultChunkSize,
		ProgressInterval: DefaultProgressInterval,
		Requirements: []Requirement{
			{Command: "node", MinVersion: "18.0.0"},
			{Command: "npm", MinVersion: "8.0.0"},
		},
		PostInstall: PostInstall{
			Steps: []Step{
				{Name: "npm install", Command: "npm", Args: []string{"install"}},
				{Name: "playwright install", Command: "npx", Args: []string{"playwright", "install"}},
			},
			Artifact: DefaultArtifact,
			Marker:   DefaultMarker,
		},
	}
}

// Load reads configuration from path on top of Default and validates it.
// An empty path falls back to DefaultConfigFilename, and a missing default
// file simply yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No settings file next to the installer: pinned defaults apply.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to the provided path.
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

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills zero values with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	sourceURL, err := url.Parse(cfg.SourceURL)
	if err != nil || sourceURL.Scheme != "https" || sourceURL.Host == "" || !hasFileName(sourceURL.Path) {
		return fmt.Errorf("%w: %q", errInvalidSourceURL, cfg.SourceURL)
	}

	if !isLowerHexDigest(cfg.SHA256) {
		return fmt.Errorf("%w: %q", errInvalidDigest, cfg.SHA256)
	}

	if len(cfg.Requirements) == 0 {
		return errNoRequirements
	}

	for i := range cfg.Requirements {
		req := &cfg.Requirements[i]
		if strings.TrimSpace(req.Command) == "" {
			return fmt.Errorf("%w: requirement #%d has no command", errInvalidRequirement, i+1)
		}

		if !semver.IsValid(Canonical(req.MinVersion)) {
			return fmt.Errorf("%w: %s min_version %q", errInvalidRequirement, req.Command, req.MinVersion)
		}

		if req.VersionFlag == "" {
			req.VersionFlag = DefaultVersionFlag
		}
	}

	for i, step := range cfg.PostInstall.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return fmt.Errorf("%w: step #%d has no command", errInvalidStep, i+1)
		}

		if step.Name == "" {
			cfg.PostInstall.Steps[i].Name = step.String()
		}
	}

	if cfg.PostInstall.Marker == "" {
		cfg.PostInstall.Marker = DefaultMarker
	}

	if filepath.Base(cfg.PostInstall.Marker) != cfg.PostInstall.Marker {
		return fmt.Errorf("%w: %q", errInvalidMarker, cfg.PostInstall.Marker)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	return nil
}

// ArchiveName returns the file name of the archive behind SourceURL.
func (c *Config) ArchiveName() string {
	sourceURL, err := url.Parse(c.SourceURL)
	if err != nil {
		return path.Base(c.SourceURL)
	}

	return path.Base(sourceURL.Path)
}

// ResolveInstallDir returns InstallDir or, when it is empty,
// the directory holding the running executable.
func (c *Config) ResolveInstallDir() (string, error) {
	if c.InstallDir != "" {
		return filepath.Abs(c.InstallDir)
	}

	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate installer executable: %w", err)
	}

	if resolved, evalErr := filepath.EvalSymlinks(executable); evalErr == nil {
		executable = resolved
	}

	return filepath.Dir(executable), nil
}

// Canonical turns "18.0.0" or "v18.0.0" into the "v18.0.0" form used for semver ordering.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}

	return "v" + strings.TrimPrefix(v, "v")
}

func hasFileName(urlPath string) bool {
	base := path.Base(urlPath)

	return base != "/" && base != "."
}

func isLowerHexDigest(s string) bool {
	if len(s) != sha256HexLength || strings.ToLower(s) != s {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}
