// Package config defines the appkg tool settings and provides helpers to
// load, validate and save them in YAML format.
//
// Settings choose the digest algorithm for newly hashed files, the entry
// compression, the declaration codec, the number of concurrent verification
// streams and the log level. Command-line flags override them.
package config
