package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Canonical OS names.
const (
	Windows = "windows"
	Linux   = "linux"
	MacOS   = "macos"
)

// Canonical architecture names.
const (
	X64     = "x64"
	X86     = "x86"
	AArch64 = "aarch64"
	ARM     = "arm"
)

var (
	errUnknownOS   = errors.New("unknown operating system")
	errUnknownArch = errors.New("unknown architecture")
	errMalformed   = errors.New("platform must look like os/arch")
)

// Tag is a canonical OS/architecture pair.
type Tag struct {
	OS   string
	Arch string
}

// String renders the tag as "os/arch".
func (t Tag) String() string {
	return t.OS + "/" + t.Arch
}

// Detect maps raw names, such as runtime.GOOS values or JVM-style
// "os.name"/"os.arch" properties, onto a canonical tag.
func Detect(osName, osArch string) (Tag, error) {
	canonicalOS, err := canonicalOS(osName)
	if err != nil {
		return Tag{}, err
	}

	canonicalArch, err := canonicalArch(osArch)
	if err != nil {
		return Tag{}, err
	}

	return Tag{OS: canonicalOS, Arch: canonicalArch}, nil
}

// Host computes the tag of the running process.
func Host() (Tag, error) {
	return Detect(runtime.GOOS, runtime.GOARCH)
}

// ParseTag reads "os/arch" and canonicalizes both halves.
func ParseTag(s string) (Tag, error) {
	osName, osArch, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || osName == "" || osArch == "" {
		return Tag{}, fmt.Errorf("%q: %w", s, errMalformed)
	}

	return Detect(osName, osArch)
}

func canonicalOS(name string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	switch {
	case strings.Contains(lower, "windows"), lower == "win":
		return Windows, nil
	case strings.Contains(lower, "linux"):
		return Linux, nil
	case strings.Contains(lower, "mac"), strings.Contains(lower, "darwin"), lower == "osx":
		return MacOS, nil
	default:
		return "", fmt.Errorf("%q: %w", name, errUnknownOS)
	}
}

func canonicalArch(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "amd64", "x86_64", "x86-64", "x64":
		return X64, nil
	case "386", "i386", "i486", "i586", "i686", "x86":
		return X86, nil
	case "arm64", "aarch64":
		return AArch64, nil
	case "arm", "armv7", "armv7l", "aarch32":
		return ARM, nil
	default:
		return "", fmt.Errorf("%q: %w", name, errUnknownArch)
	}
}
