package extractor

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/mcp-installer/internal/logger"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

var (
	// ErrArchive wraps malformed archives and entries that cannot be unpacked safely.
	ErrArchive = errors.New("invalid archive")
	// errUnsafePath is returned for entries escaping the target directory.
	errUnsafePath = errors.New("unsafe archive path")
	// errUnsupportedFormat is returned for unknown archive extensions.
	errUnsupportedFormat = errors.New("unsupported archive format")
)

// archiveExtensions are stripped from the archive name to derive the target directory.
// Longer suffixes come first so ".tar.gz" wins over ".gz".
//
//nolint:gochecknoglobals // Read-only lookup table.
var archiveExtensions = []string{".tar.gz", ".tgz", ".zip", ".tar"}

// Result describes an extraction.
type Result struct {
	// Dir is the extraction directory.
	Dir string
	// Extracted is false when Dir already existed and unpacking was skipped.
	Extracted bool
	// Entries is the number of archive entries written.
	Entries int
}

// TargetDir returns the sibling directory named after the archive without its extension.
func TargetDir(archivePath string) string {
	base := filepath.Base(archivePath)
	lower := strings.ToLower(base)

	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) && len(base) > len(ext) {
			return filepath.Join(filepath.Dir(archivePath), base[:len(base)-len(ext)])
		}
	}

	return filepath.Join(filepath.Dir(archivePath), strings.TrimSuffix(base, filepath.Ext(base)))
}

// Extract unpacks archivePath into TargetDir(archivePath).
// When the target directory already exists the archive is not opened at all.
// A failed extraction is not cleaned up.
func Extract(ctx context.Context, archivePath string) (*Result, error) {
	dir := TargetDir(archivePath)

	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("%s exists but is not a directory", dir)
		}

		logger.InfoKV(ctx, "Already extracted, skipping extraction", "dir", filepath.Base(dir))

		return &Result{Dir: dir}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	logger.InfoKV(ctx, "Extracting", "archive", filepath.Base(archivePath), "dir", filepath.Base(dir))

	var (
		entries int
		err     error
	)

	lower := strings.ToLower(archivePath)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		entries, err = extractZip(ctx, archivePath, dir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		entries, err = extractTarGz(ctx, archivePath, dir)
	case strings.HasSuffix(lower, ".tar"):
		entries, err = extractTarFile(ctx, archivePath, dir)
	default:
		err = fmt.Errorf("%w: %w: %s", ErrArchive, errUnsupportedFormat, filepath.Base(archivePath))
	}

	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Extracted archive", "dir", filepath.Base(dir), "entries", entries)

	return &Result{
		Dir:       dir,
		Extracted: true,
		Entries:   entries,
	}, nil
}

// extractZip unpacks every zip entry below dir.
func extractZip(ctx context.Context, archivePath, dir string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrArchive, filepath.Base(archivePath), err)
	}

	defer func() {
		_ = reader.Close()
	}()

	if err = os.MkdirAll(dir, dirMode); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	for i, file := range reader.File {
		if err = ctx.Err(); err != nil {
			return i, err
		}

		if err = writeZipEntry(file, dir); err != nil {
			return i, err
		}
	}

	return len(reader.File), nil
}

func writeZipEntry(file *zip.File, dir string) error {
	target, err := entryTarget(dir, file.Name)
	if err != nil {
		return err
	}

	mode := file.Mode()

	switch {
	case mode.IsDir():
		return os.MkdirAll(target, dirMode)
	case mode&fs.ModeSymlink != 0:
		src, openErr := file.Open()
		if openErr != nil {
			return fmt.Errorf("%w: open %s: %w", ErrArchive, file.Name, openErr)
		}

		linkname, readErr := io.ReadAll(src)
		_ = src.Close()

		if readErr != nil {
			return fmt.Errorf("%w: read %s: %w", ErrArchive, file.Name, readErr)
		}

		return writeSymlink(dir, target, string(linkname))
	default:
		src, openErr := file.Open()
		if openErr != nil {
			return fmt.Errorf("%w: open %s: %w", ErrArchive, file.Name, openErr)
		}

		defer func() {
			_ = src.Close()
		}()

		return writeRegular(target, src, mode)
	}
}

// extractTarGz unpacks a gzip-compressed tarball below dir.
func extractTarGz(ctx context.Context, archivePath, dir string) (int, error) {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", archivePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("%w: gzip %s: %w", ErrArchive, filepath.Base(archivePath), err)
	}

	defer func() {
		_ = gzipReader.Close()
	}()

	return extractTar(ctx, tar.NewReader(gzipReader), dir)
}

// extractTarFile unpacks an uncompressed tarball below dir.
func extractTarFile(ctx context.Context, archivePath, dir string) (int, error) {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", archivePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	return extractTar(ctx, tar.NewReader(file), dir)
}

// extractTar creates dir only once the first header has been read successfully.
func extractTar(ctx context.Context, reader *tar.Reader, dir string) (int, error) {
	entries := 0
	created := false

	for {
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if !created {
				if err = os.MkdirAll(dir, dirMode); err != nil {
					return entries, fmt.Errorf("create %s: %w", dir, err)
				}
			}

			return entries, nil
		}

		if err != nil {
			return entries, fmt.Errorf("%w: read tar header: %w", ErrArchive, err)
		}

		if !created {
			if err = os.MkdirAll(dir, dirMode); err != nil {
				return entries, fmt.Errorf("create %s: %w", dir, err)
			}

			created = true
		}

		target, err := entryTarget(dir, header.Name)
		if err != nil {
			return entries, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, dirMode)
		case tar.TypeReg:
			err = writeRegular(target, reader, header.FileInfo().Mode())
		case tar.TypeSymlink:
			err = writeSymlink(dir, target, header.Linkname)
		default:
			// Devices, fifos and hard links are not needed by a node package.
			logger.DebugKV(ctx, "Skipping unsupported archive entry",
				"entry", header.Name,
				"type", string(rune(header.Typeflag)))

			continue
		}

		if err != nil {
			return entries, err
		}

		entries++
	}
}

func writeRegular(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	// Opening an existing symlink would write through it.
	if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: %w: %s is a symlink", ErrArchive, errUnsafePath, target)
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = fileMode
	}

	out, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err = io.Copy(out, src); err != nil {
		_ = out.Close()

		return fmt.Errorf("%w: write %s: %w", ErrArchive, target, err)
	}

	return out.Close()
}

func writeSymlink(dir, target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}

	if !within(dir, resolved) {
		return fmt.Errorf("%w: %w: symlink %s -> %s", ErrArchive, errUnsafePath, target, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	return os.Symlink(linkname, target)
}

// entryTarget returns where an entry is written. Besides the lexical check of safeJoin,
// symlinks already extracted on the way to the target must not lead outside dir.
func entryTarget(dir, name string) (string, error) {
	target, err := safeJoin(dir, name)
	if err != nil {
		return "", err
	}

	inside, err := resolvesInside(dir, target)
	if err != nil {
		return "", err
	}

	if !inside {
		return "", fmt.Errorf("%w: %w: %s", ErrArchive, errUnsafePath, name)
	}

	return target, nil
}

// resolvesInside reports whether the parent of target, with every existing symlink
// resolved, is still inside dir. A dangling symlink on the way counts as outside.
func resolvesInside(dir, target string) (bool, error) {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", dir, err)
	}

	existing := filepath.Dir(target)

	for {
		_, statErr := os.Lstat(existing)
		if statErr == nil {
			break
		}

		if !errors.Is(statErr, os.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", existing, statErr)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}

		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return false, nil //nolint:nilerr // Unresolvable links are treated as escaping.
	}

	return within(realDir, resolved), nil
}

// safeJoin joins an archive entry name to dir, rejecting entries that escape it.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %w: %s", ErrArchive, errUnsafePath, name)
	}

	target := filepath.Join(dir, clean)
	if !within(dir, target) {
		return "", fmt.Errorf("%w: %w: %s", ErrArchive, errUnsafePath, name)
	}

	return target, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
