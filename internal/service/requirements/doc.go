// Package requirements checks that external runtimes are installed and
// report at least a minimum semantic version.
package requirements
