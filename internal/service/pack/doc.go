// Package pack builds a container from a source directory.
//
// The declaration starts from an optional YAML skeleton. Every regular file
// found under the source directory that the skeleton does not list is hashed
// with the configured algorithm and declared, unless strict mode keeps the
// skeleton as the only source of truth. The container is written next to its
// final path under a unique temporary name and published atomically.
package pack
