// Package verify checks every declared digest of a container.
//
// Entries are hashed concurrently by a bounded pool of streams. A failure of
// one file never stops the others: the report lists every file that does not
// match its declaration.
package verify
