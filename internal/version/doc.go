// Package version exposes build metadata for mcp-installer.
//
// Version, Commit and BuildTime are injected via -ldflags at build time.
package version
