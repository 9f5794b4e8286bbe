// Package digest computes and verifies content hashes for container entries.
//
// A Digest pairs an algorithm tag with the raw hash bytes and renders as
// "<algorithm>:<hex>". Algorithm tags are fixed for the appkg/v1 format so that
// older containers stay verifiable; unknown tags survive decoding and fail
// explicitly with ErrUnsupportedAlgorithm when a hash is requested.
package digest
