// Package installer drives the web-search-mcp installation pipeline.
//
// A run checks the required runtimes, fetches and verifies the pinned release
// archive, unpacks it next to the archive and runs the post-install commands
// inside the unpacked tree. Every stage is skipped when its on-disk result
// already exists, so repeated runs converge on the same state.
package installer
