package fetcher

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/logger"
	"github.com/oshokin/mcp-installer/internal/service/integrity"
)

const (
	// archiveFileMode is the permission of the committed archive.
	archiveFileMode os.FileMode = 0o644

	// dirMode is the permission of a created install directory.
	dirMode os.FileMode = 0o755

	// partSuffix marks an in-flight download.
	partSuffix = ".part"
)

var (
	// ErrDownload wraps transport failures: network errors and non-200 responses.
	ErrDownload = errors.New("download failed")
	// errBadHTTPStatus is returned for any response other than 200 OK.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Result describes the local archive produced by Fetch.
type Result struct {
	// Path is the location of the verified archive.
	Path string
	// Downloaded is false when an existing verified copy was reused.
	Downloaded bool
	// Size is the number of bytes downloaded in this run.
	Size int64
}

// Fetcher downloads the release archive once and keeps it verified.
type Fetcher struct {
	client           *http.Client
	verifier         *integrity.Verifier
	sourceURL        string
	archiveName      string
	userAgent        string
	chunkSize        int
	progressInterval int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client, e.g. with an httptest TLS client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// New creates a Fetcher for the archive described by cfg.
func New(cfg *config.Config, verifier *integrity.Verifier, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:           &http.Client{Timeout: cfg.Timeout},
		verifier:         verifier,
		sourceURL:        cfg.SourceURL,
		archiveName:      cfg.ArchiveName(),
		userAgent:        cfg.UserAgent,
		chunkSize:        cfg.ChunkSize,
		progressInterval: cfg.ProgressInterval,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ArchivePath returns where the archive lives inside dir.
func (f *Fetcher) ArchivePath(dir string) string {
	return filepath.Join(dir, f.archiveName)
}

// Fetch makes sure a verified archive exists in dir.
//
// An existing archive is verified first and reused when it matches. A corrupted
// one is deleted and downloaded again, once. A fresh download is written to a
// ".part" file, verified, and only then moved over the archive path.
func (f *Fetcher) Fetch(ctx context.Context, dir string) (*Result, error) {
	archivePath := f.ArchivePath(dir)

	if _, err := os.Stat(archivePath); err == nil {
		logger.InfoKV(ctx, "Archive already exists, verifying integrity", "file", f.archiveName)

		ok, verifyErr := f.verifier.Verify(ctx, archivePath)
		if verifyErr != nil {
			return nil, verifyErr
		}

		if ok {
			logger.Info(ctx, "Existing archive verified, skipping download")

			return &Result{Path: archivePath}, nil
		}

		logger.Warn(ctx, "Existing archive is corrupted, re-downloading")

		if err = os.Remove(archivePath); err != nil {
			return nil, fmt.Errorf("remove corrupted archive: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", archivePath, err)
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}

	partPath := archivePath + partSuffix

	// Best-effort cleanup; after a successful commit the part file is already gone.
	defer func() {
		_ = os.Remove(partPath)
	}()

	size, err := f.download(ctx, partPath)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Downloaded archive", "file", f.archiveName, "size", humanize.IBytes(uint64(size)))

	if err = f.verifier.Check(ctx, partPath); err != nil {
		logger.Error(ctx, "File verification failed, removing corrupted download")

		return nil, err
	}

	if err = f.commit(partPath, archivePath); err != nil {
		return nil, fmt.Errorf("commit archive: %w", err)
	}

	return &Result{
		Path:       archivePath,
		Downloaded: true,
		Size:       size,
	}, nil
}

// download streams the source URL into path in fixed-size chunks.
func (f *Fetcher) download(ctx context.Context, path string) (int64, error) {
	logger.InfoKV(ctx, "Downloading", "url", f.sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	response, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s, %s: %w", ErrDownload, f.sourceURL, response.Status, errBadHTTPStatus)
	}

	total := response.ContentLength
	if total > 0 {
		logger.InfoKV(ctx, "File size", "size", humanize.IBytes(uint64(total)))
	}

	output, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archiveFileMode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	written, copyErr := f.copyWithProgress(ctx, output, response.Body, total)

	if closeErr := output.Close(); closeErr != nil && copyErr == nil {
		copyErr = fmt.Errorf("close %s: %w", path, closeErr)
	}

	return written, copyErr
}

// copyWithProgress copies src to dst and logs progress each time another
// progressInterval bytes arrived, provided the total size is known.
func (f *Fetcher) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64) (int64, error) {
	var (
		buf          = make([]byte, f.chunkSize)
		written      int64
		nextProgress = f.progressInterval
	)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write archive: %w", err)
			}

			written += int64(n)

			if total > 0 && written >= nextProgress {
				logger.Infof(ctx, "Progress: %.1f%% (%s of %s)",
					float64(written)/float64(total)*100,
					humanize.IBytes(uint64(written)),
					humanize.IBytes(uint64(total)))

				for nextProgress <= written {
					nextProgress += f.progressInterval
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, fmt.Errorf("%w: %w", ErrDownload, readErr)
		}

		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", ErrDownload, err)
		}
	}
}

// commit atomically replaces archivePath with the verified part file.
// go-update re-checks the checksum before swapping files.
func (f *Fetcher) commit(partPath, archivePath string) error {
	checksum, err := hex.DecodeString(f.verifier.Expected())
	if err != nil {
		return fmt.Errorf("decode pinned digest: %w", err)
	}

	part, err := os.Open(filepath.Clean(partPath))
	if err != nil {
		return err
	}

	defer func() {
		_ = part.Close()
	}()

	// go-update swaps an existing target, so a placeholder is needed for the first install.
	createdPlaceholder := false

	if _, err = os.Stat(archivePath); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		placeholder, err = os.OpenFile(filepath.Clean(archivePath), os.O_CREATE|os.O_WRONLY, archiveFileMode)
		if err != nil {
			return err
		}

		_ = placeholder.Close()
		createdPlaceholder = true
	}

	err = goupdate.Apply(part, goupdate.Options{
		TargetPath: archivePath,
		TargetMode: archiveFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	})
	if err != nil && createdPlaceholder {
		_ = os.Remove(archivePath)
	}

	return err
}
