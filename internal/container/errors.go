package container

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/appkg/internal/domain/declaration"
)

var (
	// ErrNotFound is returned when a name is not a declared file.
	ErrNotFound = errors.New("file not declared")
	// ErrDuplicateName is returned when a writer session adds the same name twice.
	ErrDuplicateName = errors.New("duplicate file name")
	// ErrReservedName is returned when a payload file would shadow a bookkeeping entry.
	ErrReservedName = errors.New("reserved file name")
	// ErrValidationFailed is wrapped by every *ValidationError.
	ErrValidationFailed = errors.New("validation failed")
	// ErrInvalidArchive is returned when the file is not a usable zip archive.
	ErrInvalidArchive = errors.New("invalid container archive")
	// ErrClosed is returned by every operation on a closed reader or writer.
	ErrClosed = errors.New("container closed")
	// ErrPathConflict is returned when two files would be unpacked onto the same path.
	ErrPathConflict = errors.New("unpack path conflict")
	// ErrSessionFailed is returned by a writer after an earlier fatal I/O error.
	ErrSessionFailed = errors.New("writer session failed")
	// ErrAborted is the close result of an aborted writer.
	ErrAborted = errors.New("writer aborted")
)

// ValidationError aggregates every issue that made an open or publish fail.
type ValidationError struct {
	// Op is "open" for readers and "publish" for writers.
	Op string
	// Path is the container path involved.
	Path string
	// Issues holds every finding, errors and warnings, in report order.
	Issues declaration.Issues
}

// Error lists every issue so that one report covers all problems.
func (e *ValidationError) Error() string {
	var builder strings.Builder

	errorCount := len(e.Issues.Errors())
	fmt.Fprintf(&builder, "%s %s: %s: %d error(s)", e.Op, e.Path, ErrValidationFailed, errorCount)

	for _, issue := range e.Issues {
		builder.WriteString("\n  ")
		builder.WriteString(issue.String())
	}

	return builder.String()
}

// Unwrap returns ErrValidationFailed so callers can use errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
