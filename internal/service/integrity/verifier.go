package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/mcp-installer/internal/logger"
)

// DefaultChunkSize is the read buffer size used while hashing.
const DefaultChunkSize = 4 * 1024

// ErrMismatch is returned by Check when the digest differs from the expected one.
var ErrMismatch = errors.New("sha256 mismatch")

// Verifier compares file digests to a pinned SHA-256 value.
type Verifier struct {
	expected  string
	chunkSize int
}

// NewVerifier creates a Verifier for the lowercase hex digest expected.
// A non-positive chunkSize selects DefaultChunkSize.
func NewVerifier(expected string, chunkSize int) *Verifier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Verifier{
		expected:  expected,
		chunkSize: chunkSize,
	}
}

// Expected returns the pinned digest.
func (v *Verifier) Expected() string {
	return v.expected
}

// Verify reports whether the file at path matches the pinned digest.
// Mismatches are logged with both digests; I/O failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, path string) (bool, error) {
	logger.InfoKV(ctx, "Verifying file integrity", "file", filepath.Base(path))

	actual, err := Digest(ctx, path, v.chunkSize)
	if err != nil {
		return false, err
	}

	if actual != v.expected {
		logger.ErrorKV(ctx, "Hash mismatch", "expected", v.expected, "actual", actual)

		return false, nil
	}

	logger.Info(ctx, "File integrity verified")

	return true, nil
}

// Check is Verify with a mismatch turned into an error wrapping ErrMismatch.
func (v *Verifier) Check(ctx context.Context, path string) error {
	ok, err := v.Verify(ctx, path)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%s: %w (expected %s)", filepath.Base(path), ErrMismatch, v.expected)
	}

	return nil
}

// Digest streams the file through SHA-256 in chunkSize reads and returns lowercase hex.
func Digest(ctx context.Context, path string, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		if err = ctx.Err(); err != nil {
			return "", err
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			_, _ = hasher.Write(buf[:n])
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return "", fmt.Errorf("read %s: %w", path, readErr)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
