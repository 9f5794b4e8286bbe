// Package platform canonicalizes operating system and architecture names.
//
// Detect is a pure function of its two inputs, so callers decide when to
// compute the host tag; nothing is cached process-wide.
package platform
