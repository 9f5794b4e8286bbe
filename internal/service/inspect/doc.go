// Package inspect prints what a container declares.
//
// The report lists the package metadata, required modules, platform modules
// and every declared file with its digest and entry sizes. The raw mode
// prints the declaration document instead, re-encoded as YAML.
package inspect
