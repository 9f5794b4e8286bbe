// Package unpack extracts a container into a directory.
//
// Platform modules are handled by a policy built from command-line rules:
// explicit ignore, merge and include rules win, host mode ignores every
// non-host module, and everything else is included under its declared path.
package unpack
