package declaration

import (
	"errors"
	"fmt"
	"strings"
)

// ReservedPrefix is the archive directory holding container bookkeeping entries.
// Declared files must not live below it.
const ReservedPrefix = ".appkg/"

// pathSeparator is the platform-neutral separator used inside containers.
const pathSeparator = "/"

// ErrInvalidFileName is returned when a path is not a valid archive-relative file name.
var ErrInvalidFileName = errors.New("invalid file name")

// FileName is a validated, platform-neutral, archive-relative path.
// The zero value is invalid; obtain values through ParseFileName.
type FileName struct {
	path string
}

// ParseFileName validates s and returns it as a FileName.
// Absolute paths, backslashes, empty segments, "." and ".." are rejected.
func ParseFileName(s string) (FileName, error) {
	if err := checkFileName(s); err != nil {
		return FileName{}, fmt.Errorf("%q: %w: %w", s, ErrInvalidFileName, err)
	}

	return FileName{path: s}, nil
}

// MustParseFileName is like ParseFileName but panics on invalid input.
// It is meant for constants and tests.
func MustParseFileName(s string) FileName {
	name, err := ParseFileName(s)
	if err != nil {
		panic(err)
	}

	return name
}

func checkFileName(s string) error {
	switch {
	case s == "":
		return errors.New("empty path")
	case strings.ContainsRune(s, 0):
		return errors.New("contains NUL byte")
	case strings.Contains(s, `\`):
		return errors.New("contains backslash")
	case strings.HasPrefix(s, pathSeparator):
		return errors.New("absolute path")
	case len(s) >= 2 && s[1] == ':' && isASCIILetter(s[0]):
		return errors.New("drive-qualified path")
	}

	for segment := range strings.SplitSeq(s, pathSeparator) {
		switch segment {
		case "":
			return errors.New("empty segment")
		case ".", "..":
			return fmt.Errorf("%q segment", segment)
		}
	}

	return nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// String returns the path with forward slashes.
func (n FileName) String() string {
	return n.path
}

// IsZero reports whether n was never set.
func (n FileName) IsZero() bool {
	return n.path == ""
}

// Less orders names byte-wise.
func (n FileName) Less(other FileName) bool {
	return n.path < other.path
}

// Compare orders names byte-wise, for use with slices.SortFunc.
func (n FileName) Compare(other FileName) int {
	return strings.Compare(n.path, other.path)
}

// Contains reports whether other lies strictly below n when n is read as a directory.
func (n FileName) Contains(other FileName) bool {
	return strings.HasPrefix(other.path, n.path+pathSeparator)
}

// TrimPrefix strips the directory root from n.
// It returns n unchanged when n is not below root.
func (n FileName) TrimPrefix(root FileName) FileName {
	if !root.Contains(n) {
		return n
	}

	return FileName{path: n.path[len(root.path)+len(pathSeparator):]}
}

// Parents returns the directories enclosing n, outermost first.
func (n FileName) Parents() []FileName {
	var parents []FileName

	for i := range len(n.path) {
		if n.path[i] == pathSeparator[0] {
			parents = append(parents, FileName{path: n.path[:i]})
		}
	}

	return parents
}

// Base returns the last path segment.
func (n FileName) Base() string {
	return n.path[strings.LastIndex(n.path, pathSeparator)+1:]
}

// IsReserved reports whether n lives below ReservedPrefix.
func (n FileName) IsReserved() bool {
	return strings.HasPrefix(n.path, ReservedPrefix)
}

// MarshalText implements encoding.TextMarshaler.
func (n FileName) MarshalText() ([]byte, error) {
	return []byte(n.path), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *FileName) UnmarshalText(text []byte) error {
	parsed, err := ParseFileName(string(text))
	if err != nil {
		return err
	}

	*n = parsed

	return nil
}
