package declaration

import (
	"maps"
	"slices"

	"github.com/oshokin/appkg/internal/digest"
)

// Metadata identifies a package. It is a value type: copies never share state.
type Metadata struct {
	// Name is the short package name, e.g. "hello".
	Name string
	// Version is the package version string.
	Version string
	// Title is the human-readable application name.
	Title string
}

// PlatformModule marks a subtree of the declared files as belonging to one OS/architecture pair.
type PlatformModule struct {
	// OS is the operating system the subtree targets, e.g. "windows".
	OS string
	// Arch is the architecture the subtree targets, e.g. "x64".
	Arch string
	// Root is the directory holding the platform-specific files.
	Root FileName
}

// Contains reports whether name belongs to the module subtree.
func (m PlatformModule) Contains(name FileName) bool {
	return m.Root.Contains(name)
}

// String renders the module as "os/arch@root".
func (m PlatformModule) String() string {
	return m.OS + "/" + m.Arch + "@" + m.Root.String()
}

// Declaration is the authoritative package manifest.
type Declaration struct {
	// Metadata carries the package identity.
	Metadata Metadata
	// Modules lists, in order, the module identifiers required to run the application.
	Modules []string
	// Files maps every payload file to its declared digest.
	Files map[FileName]digest.Digest
	// PlatformModules lists the platform-specific subtrees of Files.
	PlatformModules []PlatformModule
}

// New builds a normalized Declaration. Inputs are copied.
func New(
	metadata Metadata,
	modules []string,
	files map[FileName]digest.Digest,
	platformModules []PlatformModule,
) *Declaration {
	d := &Declaration{
		Metadata:        metadata,
		Modules:         slices.Clone(modules),
		Files:           make(map[FileName]digest.Digest, len(files)),
		PlatformModules: slices.Clone(platformModules),
	}

	for name, sum := range files {
		d.Files[name] = sum.Clone()
	}

	d.normalize()

	return d
}

// normalize collapses empty collections so that equal declarations compare equal
// regardless of how they were built or decoded.
func (d *Declaration) normalize() {
	if len(d.Modules) == 0 {
		d.Modules = nil
	}

	if len(d.PlatformModules) == 0 {
		d.PlatformModules = nil
	}

	if d.Files == nil {
		d.Files = make(map[FileName]digest.Digest)
	}
}

// Clone returns a deep copy of the declaration.
func (d *Declaration) Clone() *Declaration {
	if d == nil {
		return nil
	}

	return New(d.Metadata, d.Modules, d.Files, d.PlatformModules)
}

// Equal reports whether both declarations describe the same package.
func (d *Declaration) Equal(other *Declaration) bool {
	if d == nil || other == nil {
		return d == other
	}

	return d.Metadata == other.Metadata &&
		slices.Equal(d.Modules, other.Modules) &&
		slices.Equal(d.PlatformModules, other.PlatformModules) &&
		maps.EqualFunc(d.Files, other.Files, digest.Digest.Equal)
}

// SetFile declares or replaces the digest of name.
func (d *Declaration) SetFile(name FileName, sum digest.Digest) {
	if d.Files == nil {
		d.Files = make(map[FileName]digest.Digest)
	}

	d.Files[name] = sum.Clone()
}

// Digest returns the declared digest of name.
func (d *Declaration) Digest(name FileName) (digest.Digest, bool) {
	sum, ok := d.Files[name]

	return sum, ok
}

// SortedFiles returns the declared file names in byte order.
func (d *Declaration) SortedFiles() []FileName {
	return slices.SortedFunc(maps.Keys(d.Files), FileName.Compare)
}

// ModuleFor returns the platform module owning name, if any.
func (d *Declaration) ModuleFor(name FileName) (PlatformModule, bool) {
	for _, module := range d.PlatformModules {
		if module.Contains(name) {
			return module, true
		}
	}

	return PlatformModule{}, false
}

// FilesOf returns the declared files below the module root, in byte order.
func (d *Declaration) FilesOf(module PlatformModule) []FileName {
	var result []FileName

	for _, name := range d.SortedFiles() {
		if module.Contains(name) {
			result = append(result, name)
		}
	}

	return result
}
