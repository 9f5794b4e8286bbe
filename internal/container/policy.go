package container

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/platform"
)

// Disposition decides what UnpackInto does with the files of a platform module.
type Disposition uint8

const (
	// Ignore skips the module files entirely.
	Ignore Disposition = iota + 1
	// Merge writes the module files next to platform-independent files, root stripped.
	Merge
	// Include writes the module files under their declared path.
	Include
)

var errUnknownDisposition = errors.New("unknown disposition")

// String returns the lowercase disposition name.
func (d Disposition) String() string {
	switch d {
	case Ignore:
		return "ignore"
	case Merge:
		return "merge"
	case Include:
		return "include"
	default:
		return fmt.Sprintf("disposition(%d)", d)
	}
}

// ParseDisposition converts "ignore", "merge" or "include" into a Disposition.
func ParseDisposition(s string) (Disposition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return Ignore, nil
	case "merge":
		return Merge, nil
	case "include":
		return Include, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, errUnknownDisposition)
	}
}

// PlatformPolicy maps a platform module to a disposition. It must be pure.
type PlatformPolicy func(module declaration.PlatformModule) Disposition

// IncludeAll keeps every platform module under its declared path.
func IncludeAll(declaration.PlatformModule) Disposition {
	return Include
}

// HostPolicy includes modules built for host and ignores every other module.
// Modules whose names cannot be canonicalized are ignored.
func HostPolicy(host platform.Tag) PlatformPolicy {
	return func(module declaration.PlatformModule) Disposition {
		tag, err := platform.Detect(module.OS, module.Arch)
		if err != nil || tag != host {
			return Ignore
		}

		return Include
	}
}

// Rules assigns explicit dispositions to canonical platform tags.
type Rules map[platform.Tag]Disposition

// Policy returns a policy that applies the rules and defers to fallback for
// modules without a rule. A nil fallback means IncludeAll.
func (r Rules) Policy(fallback PlatformPolicy) PlatformPolicy {
	if fallback == nil {
		fallback = IncludeAll
	}

	return func(module declaration.PlatformModule) Disposition {
		tag, err := platform.Detect(module.OS, module.Arch)
		if err == nil {
			if disposition, ok := r[tag]; ok {
				return disposition
			}
		}

		return fallback(module)
	}
}
