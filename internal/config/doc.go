// Package config defines the installer settings and helpers to load,
// validate and save them in YAML format.
//
// Every pinned value of the pipeline (source URL, digest, required runtimes,
// post-install commands, marker name) lives in Config so tests and mirrors
// can override it without touching code.
package config
