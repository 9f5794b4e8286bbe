package codec

import (
	"errors"
	"fmt"

	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
)

// FormatV1 is the only declaration document format understood by this build.
const FormatV1 = "appkg/v1"

var (
	// ErrDecode is returned when declaration bytes cannot be turned into a Declaration.
	ErrDecode = errors.New("decode declaration")
	// errUnknownFormat is returned for documents written by an incompatible format version.
	errUnknownFormat = errors.New("unknown declaration format")
)

// document is the serialized shape of a declaration shared by all codecs.
type document struct {
	Format          string             `yaml:"format"                     cbor:"format"`
	Metadata        metadataDocument   `yaml:"metadata"                   cbor:"metadata"`
	Modules         []string           `yaml:"modules,omitempty"          cbor:"modules,omitempty"`
	Files           map[string]string  `yaml:"files,omitempty"            cbor:"files,omitempty"`
	PlatformModules []platformDocument `yaml:"platform_modules,omitempty" cbor:"platform_modules,omitempty"`
}

type metadataDocument struct {
	Name    string `yaml:"name"            cbor:"name"`
	Version string `yaml:"version"         cbor:"version"`
	Title   string `yaml:"title,omitempty" cbor:"title,omitempty"`
}

type platformDocument struct {
	OS   string `yaml:"os"   cbor:"os"`
	Arch string `yaml:"arch" cbor:"arch"`
	Root string `yaml:"root" cbor:"root"`
}

// toDocument flattens a declaration into its serialized shape.
func toDocument(d *declaration.Declaration) *document {
	doc := &document{
		Format: FormatV1,
		Metadata: metadataDocument{
			Name:    d.Metadata.Name,
			Version: d.Metadata.Version,
			Title:   d.Metadata.Title,
		},
		Modules: d.Modules,
	}

	if len(d.Files) > 0 {
		doc.Files = make(map[string]string, len(d.Files))

		for name, sum := range d.Files {
			doc.Files[name.String()] = sum.String()
		}
	}

	for _, module := range d.PlatformModules {
		doc.PlatformModules = append(doc.PlatformModules, platformDocument{
			OS:   module.OS,
			Arch: module.Arch,
			Root: module.Root.String(),
		})
	}

	return doc
}

// fromDocument validates the serialized shape and rebuilds the declaration.
// Structural problems (bad paths, unparsable digests, wrong format) are decode errors;
// semantic consistency is left to Declaration.Validate.
func fromDocument(doc *document) (*declaration.Declaration, error) {
	if doc.Format != FormatV1 {
		return nil, fmt.Errorf("%w: %w: %q", ErrDecode, errUnknownFormat, doc.Format)
	}

	files := make(map[declaration.FileName]digest.Digest, len(doc.Files))

	for path, text := range doc.Files {
		name, err := declaration.ParseFileName(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}

		sum, err := digest.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrDecode, path, err)
		}

		files[name] = sum
	}

	modules := make([]declaration.PlatformModule, 0, len(doc.PlatformModules))

	for _, platform := range doc.PlatformModules {
		root, err := declaration.ParseFileName(platform.Root)
		if err != nil {
			return nil, fmt.Errorf("%w: platform module %s/%s: %w", ErrDecode, platform.OS, platform.Arch, err)
		}

		modules = append(modules, declaration.PlatformModule{
			OS:   platform.OS,
			Arch: platform.Arch,
			Root: root,
		})
	}

	metadata := declaration.Metadata{
		Name:    doc.Metadata.Name,
		Version: doc.Metadata.Version,
		Title:   doc.Metadata.Title,
	}

	return declaration.New(metadata, doc.Modules, files, modules), nil
}
