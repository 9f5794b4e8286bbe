package declaration

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind is the severity of an Issue.
type Kind uint8

const (
	// KindError marks an issue that makes a declaration or container unusable.
	KindError Kind = iota + 1
	// KindWarning marks an issue that is reported but does not block.
	KindWarning
)

// String returns "ERROR" or "WARNING".
func (k Kind) String() string {
	switch k {
	case KindError:
		return "ERROR"
	case KindWarning:
		return "WARNING"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Issue codes produced by declaration and container validation.
const (
	CodeEmptyName           = "empty-name"
	CodeEmptyVersion        = "empty-version"
	CodeDuplicateModule     = "duplicate-module"
	CodeInvalidDigest       = "invalid-digest"
	CodeUnsupportedDigest   = "unsupported-digest-algorithm"
	CodeInvalidPlatform     = "invalid-platform"
	CodePlatformRootMissing = "platform-root-missing"
	CodePlatformRootOverlap = "platform-root-overlap"
	CodeReservedPath        = "reserved-path"
	CodeFileDirectoryClash  = "file-directory-clash"
	CodeMissingFile         = "missing-file"
	CodeUndeclaredFile      = "undeclared-file"
	CodeDigestMismatch      = "digest-mismatch"
	CodeMissingEntry        = "missing-entry"
	CodeOrphanEntry         = "orphan-entry"
)

// Issue is a single validation finding. It is data, not a fault:
// values are immutable once built and carry no remediation text.
//
//nolint:errname // Intentionally named Issue, it is collected and reported, not thrown.
type Issue struct {
	kind       Kind
	code       string
	message    string
	attributes map[string]string
}

// NewIssue builds an Issue; attrs is copied.
func NewIssue(kind Kind, code, message string, attrs map[string]string) Issue {
	return Issue{
		kind:       kind,
		code:       code,
		message:    message,
		attributes: maps.Clone(attrs),
	}
}

// Errorf builds an error-kind Issue with a formatted message.
func Errorf(code string, attrs map[string]string, format string, args ...any) Issue {
	return NewIssue(KindError, code, fmt.Sprintf(format, args...), attrs)
}

// Warningf builds a warning-kind Issue with a formatted message.
func Warningf(code string, attrs map[string]string, format string, args ...any) Issue {
	return NewIssue(KindWarning, code, fmt.Sprintf(format, args...), attrs)
}

// Kind returns the issue severity.
func (i Issue) Kind() Kind { return i.kind }

// Code returns the machine-readable issue code.
func (i Issue) Code() string { return i.code }

// Message returns the human-readable description.
func (i Issue) Message() string { return i.message }

// Attributes returns a copy of the diagnostic key/value context.
func (i Issue) Attributes() map[string]string {
	return maps.Clone(i.attributes)
}

// Attribute returns one diagnostic value.
func (i Issue) Attribute(key string) (string, bool) {
	value, ok := i.attributes[key]

	return value, ok
}

// String renders the issue as "[KIND code] message {k=v ...}".
func (i Issue) String() string {
	var builder strings.Builder

	builder.WriteString("[")
	builder.WriteString(i.kind.String())
	builder.WriteString(" ")
	builder.WriteString(i.code)
	builder.WriteString("] ")
	builder.WriteString(i.message)

	if len(i.attributes) > 0 {
		builder.WriteString(" {")

		for n, key := range slices.Sorted(maps.Keys(i.attributes)) {
			if n > 0 {
				builder.WriteString(", ")
			}

			builder.WriteString(key)
			builder.WriteString("=")
			builder.WriteString(i.attributes[key])
		}

		builder.WriteString("}")
	}

	return builder.String()
}

// Issues is an ordered list of findings.
type Issues []Issue

// HasErrors reports whether any issue is of KindError.
func (is Issues) HasErrors() bool {
	return slices.ContainsFunc(is, func(i Issue) bool {
		return i.kind == KindError
	})
}

// Errors returns only the error-kind issues.
func (is Issues) Errors() Issues {
	return is.filter(KindError)
}

// Warnings returns only the warning-kind issues.
func (is Issues) Warnings() Issues {
	return is.filter(KindWarning)
}

func (is Issues) filter(kind Kind) Issues {
	var result Issues

	for _, issue := range is {
		if issue.kind == kind {
			result = append(result, issue)
		}
	}

	return result
}
