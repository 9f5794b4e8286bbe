// Package container reads and writes appkg package containers.
//
// A container is a zip archive holding one reserved declaration entry plus one
// entry per declared file. Writer assembles a container under a temporary
// path, reconciles every added file against the declaration and publishes it
// with a single rename, so a reader of the final path never sees a partial
// write. Reader validates the declaration on Open, streams entries by name,
// verifies digests on demand and unpacks the payload under a caller-supplied
// platform policy.
//
// A Reader may serve concurrent streams over distinct names. A Writer belongs
// to a single goroutine.
package container
