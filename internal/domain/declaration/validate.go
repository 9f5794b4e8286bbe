package declaration

import (
	"strconv"
	"strings"
)

// Validate checks the declaration for internal consistency and returns every issue found.
// Only error-kind issues make a declaration unusable.
func (d *Declaration) Validate() Issues {
	var issues Issues

	issues = append(issues, d.validateMetadata()...)
	issues = append(issues, d.validateModules()...)
	issues = append(issues, d.validateFiles()...)
	issues = append(issues, d.validatePlatformModules()...)

	return issues
}

func (d *Declaration) validateMetadata() Issues {
	var issues Issues

	if strings.TrimSpace(d.Metadata.Name) == "" {
		issues = append(issues, Errorf(CodeEmptyName, nil, "package name is empty"))
	}

	if strings.TrimSpace(d.Metadata.Version) == "" {
		issues = append(issues, Warningf(CodeEmptyVersion, nil, "package version is empty"))
	}

	return issues
}

func (d *Declaration) validateModules() Issues {
	var (
		issues Issues
		seen   = make(map[string]struct{}, len(d.Modules))
	)

	for _, module := range d.Modules {
		if _, found := seen[module]; found {
			issues = append(issues, Warningf(CodeDuplicateModule,
				map[string]string{"module": module},
				"module %q is listed more than once", module))

			continue
		}

		seen[module] = struct{}{}
	}

	return issues
}

func (d *Declaration) validateFiles() Issues {
	var issues Issues

	for _, name := range d.SortedFiles() {
		sum := d.Files[name]
		attrs := map[string]string{
			"file":      name.String(),
			"algorithm": sum.Algorithm.String(),
		}

		switch {
		case name.IsReserved():
			issues = append(issues, Errorf(CodeReservedPath, attrs,
				"file %s lives under the reserved %s prefix", name, ReservedPrefix))
		case !sum.Algorithm.Supported():
			issues = append(issues, Errorf(CodeUnsupportedDigest, attrs,
				"file %s uses unsupported digest algorithm %q", name, sum.Algorithm))
		case len(sum.Sum) != sum.Algorithm.Size():
			attrs["length"] = strconv.Itoa(len(sum.Sum))
			issues = append(issues, Errorf(CodeInvalidDigest, attrs,
				"file %s has a %d-byte %s digest, want %d bytes",
				name, len(sum.Sum), sum.Algorithm, sum.Algorithm.Size()))
		}

		for _, parent := range name.Parents() {
			if _, declared := d.Files[parent]; declared {
				issues = append(issues, Errorf(CodeFileDirectoryClash,
					map[string]string{
						"file":  parent.String(),
						"other": name.String(),
					},
					"file %s is also the directory of %s", parent, name))
			}
		}
	}

	return issues
}

func (d *Declaration) validatePlatformModules() Issues {
	var issues Issues

	for i, module := range d.PlatformModules {
		attrs := map[string]string{
			"os":   module.OS,
			"arch": module.Arch,
			"root": module.Root.String(),
		}

		if module.OS == "" || module.Arch == "" || module.Root.IsZero() {
			issues = append(issues, Errorf(CodeInvalidPlatform, attrs,
				"platform module %d needs os, arch and root", i))

			continue
		}

		if len(d.FilesOf(module)) == 0 {
			issues = append(issues, Errorf(CodePlatformRootMissing, attrs,
				"platform module %s covers no declared file", module))
		}

		for _, other := range d.PlatformModules[i+1:] {
			if other.Root.IsZero() {
				continue
			}

			if module.Root == other.Root || module.Root.Contains(other.Root) || other.Root.Contains(module.Root) {
				issues = append(issues, Errorf(CodePlatformRootOverlap,
					map[string]string{
						"root":  module.Root.String(),
						"other": other.Root.String(),
					},
					"platform modules %s and %s overlap", module, other))
			}
		}
	}

	return issues
}
