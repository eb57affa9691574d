// Package integrity computes streaming SHA-256 digests and compares them to
// the single pinned digest of the release archive.
package integrity
