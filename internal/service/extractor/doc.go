// Package extractor unpacks the release archive into a directory named after it.
package extractor
