package integrity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/mcp-installer/internal/logger"
)

func writeFile(t *testing.T, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	return path
}

func sum(contents []byte) string {
	digest := sha256.Sum256(contents)

	return hex.EncodeToString(digest[:])
}

// TestDigest compares the chunked digest with a one-shot digest for several chunk sizes.
func TestDigest(t *testing.T) {
	t.Parallel()

	contents := bytes.Repeat([]byte("web-search-mcp"), 1000)
	path := writeFile(t, contents)

	for _, chunkSize := range []int{0, 1, 7, 4096, 1 << 20} {
		got, err := Digest(context.Background(), path, chunkSize)
		require.NoError(t, err)
		require.Equal(t, sum(contents), got)
	}
}

// TestVerify_Match checks a matching file.
func TestVerify_Match(t *testing.T) {
	t.Parallel()

	contents := []byte("release archive")
	path := writeFile(t, contents)

	ok, err := NewVerifier(sum(contents), 0).Verify(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, NewVerifier(sum(contents), 0).Check(context.Background(), path))
}

// TestVerify_MismatchLogsBothDigests ensures a mismatch returns false and reports both digests.
func TestVerify_MismatchLogsBothDigests(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	path := writeFile(t, []byte("tampered"))
	expected := sum([]byte("original"))
	verifier := NewVerifier(expected, 16)

	ok, err := verifier.Verify(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)

	mismatches := logs.FilterMessage("Hash mismatch").All()
	require.Len(t, mismatches, 1)
	require.Equal(t, expected, mismatches[0].ContextMap()["expected"])
	require.Equal(t, sum([]byte("tampered")), mismatches[0].ContextMap()["actual"])

	require.ErrorIs(t, verifier.Check(ctx, path), ErrMismatch)
}

// TestVerify_UppercaseDigestDoesNotMatch keeps the comparison case-sensitive.
func TestVerify_UppercaseDigestDoesNotMatch(t *testing.T) {
	t.Parallel()

	contents := []byte("abc")
	path := writeFile(t, contents)
	upper := bytes.ToUpper([]byte(sum(contents)))

	ok, err := NewVerifier(string(upper), 0).Verify(context.Background(), path)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestVerify_MissingFile returns an error instead of a mismatch.
func TestVerify_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(sum(nil), 0).Verify(context.Background(), filepath.Join(t.TempDir(), "nope.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestDigest_Canceled stops hashing once the context is canceled.
func TestDigest_Canceled(t *testing.T) {
	t.Parallel()

	path := writeFile(t, []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Digest(ctx, path, 0)
	require.ErrorIs(t, err, context.Canceled)
}
