// Package version exposes build metadata for appkg.
//
// Version, Commit and BuildTime are injected at build time via ldflags.
package version
