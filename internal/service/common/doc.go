// Package common holds helpers shared by several installer stages.
//
// It wraps external command execution behind CommandRunner so the requirement
// checker and the post-install runner can be exercised with fakes in tests.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
