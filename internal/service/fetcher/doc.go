// Package fetcher downloads the pinned release archive over HTTPS.
//
// Downloads go to a ".part" file that is verified before it replaces the
// archive, so an interrupted run never leaves a trusted-looking archive behind.
package fetcher
