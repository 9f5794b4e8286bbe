// Package declaration contains the package declaration model: identity
// metadata, required modules, declared file digests and platform-dependent
// module subtrees.
//
// Declarations are plain values validated by Validate, which reports problems
// as immutable Issue values instead of failing on the first one. Clone helpers
// keep readers from leaking their internal copy.
package declaration
