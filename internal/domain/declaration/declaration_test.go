package declaration

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/digest"
)

func sha256Of(t *testing.T, content string) digest.Digest {
	t.Helper()

	sum, err := digest.OfBytes(digest.SHA256, []byte(content))
	require.NoError(t, err)

	return sum
}

func sampleDeclaration(t *testing.T) *Declaration {
	t.Helper()

	return New(
		Metadata{Name: "hello", Version: "1.0", Title: "Hello App"},
		[]string{"java.base", "java.desktop"},
		map[FileName]digest.Digest{
			MustParseFileName("app.jar"):               sha256Of(t, "jar"),
			MustParseFileName("natives/win64/lib.dll"): sha256Of(t, "dll"),
			MustParseFileName("natives/linux/lib.so"):  sha256Of(t, "so"),
		},
		[]PlatformModule{
			{OS: "windows", Arch: "x64", Root: MustParseFileName("natives/win64")},
			{OS: "linux", Arch: "x64", Root: MustParseFileName("natives/linux")},
		},
	)
}

// TestParseFileName covers accepted and rejected archive paths.
func TestParseFileName(t *testing.T) {
	t.Parallel()

	for _, good := range []string{"app.jar", "lib/a.jar", "natives/win64/lib.dll", ".hidden", "a..b/c"} {
		name, err := ParseFileName(good)
		require.NoError(t, err, good)
		require.Equal(t, good, name.String())
	}

	for _, bad := range []string{"", "/etc/passwd", "a//b", "a/", "../x", "a/../b", "./a", "a/./b", `a\b`, "C:/x", "a\x00b"} {
		_, err := ParseFileName(bad)
		require.ErrorIs(t, err, ErrInvalidFileName, bad)
	}
}

// TestFileName_Subtree checks prefix containment and stripping.
func TestFileName_Subtree(t *testing.T) {
	t.Parallel()

	root := MustParseFileName("natives/win64")
	file := MustParseFileName("natives/win64/sub/lib.dll")
	sibling := MustParseFileName("natives/win64x/lib.dll")

	require.True(t, root.Contains(file))
	require.False(t, root.Contains(sibling))
	require.False(t, root.Contains(root))
	require.Equal(t, "sub/lib.dll", file.TrimPrefix(root).String())
	require.Equal(t, sibling, sibling.TrimPrefix(root))
	require.Equal(t, "lib.dll", file.Base())
	require.True(t, MustParseFileName(".appkg/declaration.yaml").IsReserved())
	require.Equal(t, []FileName{
		MustParseFileName("natives"),
		MustParseFileName("natives/win64"),
		MustParseFileName("natives/win64/sub"),
	}, file.Parents())
	require.Empty(t, MustParseFileName("app.jar").Parents())
}

// TestDeclaration_Clone verifies that Clone returns an equal, independent copy.
func TestDeclaration_Clone(t *testing.T) {
	t.Parallel()

	original := sampleDeclaration(t)
	cloned := original.Clone()

	require.True(t, original.Equal(cloned))
	require.NotSame(t, original, cloned)

	cloned.Modules[0] = "changed"
	cloned.Files[MustParseFileName("app.jar")].Sum[0] ^= 0xff

	require.Equal(t, "java.base", original.Modules[0])
	require.False(t, original.Equal(cloned))
	require.False(t, bytes.Equal(original.Files[MustParseFileName("app.jar")].Sum,
		cloned.Files[MustParseFileName("app.jar")].Sum))
	require.Nil(t, (*Declaration)(nil).Clone())
}

// TestDeclaration_ModuleFor resolves platform ownership of files.
func TestDeclaration_ModuleFor(t *testing.T) {
	t.Parallel()

	decl := sampleDeclaration(t)

	module, ok := decl.ModuleFor(MustParseFileName("natives/win64/lib.dll"))
	require.True(t, ok)
	require.Equal(t, "windows", module.OS)

	_, ok = decl.ModuleFor(MustParseFileName("app.jar"))
	require.False(t, ok)

	require.Equal(t, []FileName{MustParseFileName("natives/linux/lib.so")}, decl.FilesOf(decl.PlatformModules[1]))
}

// TestValidate_Valid ensures a consistent declaration produces no issues.
func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	require.Empty(t, sampleDeclaration(t).Validate())
}

// TestValidate_CollectsEveryIssue checks that all problems are reported at once.
func TestValidate_CollectsEveryIssue(t *testing.T) {
	t.Parallel()

	decl := New(
		Metadata{},
		[]string{"java.base", "java.base"},
		map[FileName]digest.Digest{
			MustParseFileName("a.jar"):                   {Algorithm: "md4", Sum: []byte{1}},
			MustParseFileName("b.jar"):                   {Algorithm: digest.SHA256, Sum: []byte{1, 2}},
			MustParseFileName(".appkg/declaration.yaml"): sha256Of(t, "x"),
			MustParseFileName("natives/a/b/lib.so"):      sha256Of(t, "so"),
		},
		[]PlatformModule{
			{OS: "linux", Arch: "x64", Root: MustParseFileName("natives/a")},
			{OS: "linux", Arch: "aarch64", Root: MustParseFileName("natives/a/b")},
			{OS: "macos", Arch: "aarch64", Root: MustParseFileName("natives/mac")},
			{OS: "", Arch: "x64", Root: MustParseFileName("natives/none")},
		},
	)

	issues := decl.Validate()
	require.True(t, issues.HasErrors())

	codes := make(map[string]Kind, len(issues))
	for _, issue := range issues {
		codes[issue.Code()] = issue.Kind()
	}

	require.Equal(t, map[string]Kind{
		CodeEmptyName:           KindError,
		CodeEmptyVersion:        KindWarning,
		CodeDuplicateModule:     KindWarning,
		CodeUnsupportedDigest:   KindError,
		CodeInvalidDigest:       KindError,
		CodeReservedPath:        KindError,
		CodePlatformRootOverlap: KindError,
		CodePlatformRootMissing: KindError,
		CodeInvalidPlatform:     KindError,
	}, codes)
	require.Len(t, issues.Warnings(), 2)
}

// TestValidate_FileDirectoryClash rejects a file that another file needs as its directory.
func TestValidate_FileDirectoryClash(t *testing.T) {
	t.Parallel()

	decl := New(
		Metadata{Name: "hello", Version: "1.0.0"},
		nil,
		map[FileName]digest.Digest{
			MustParseFileName("lib"):          sha256Of(t, "file"),
			MustParseFileName("lib/util.jar"): sha256Of(t, "jar"),
			MustParseFileName("library.jar"):  sha256Of(t, "other"),
		},
		nil,
	)

	issues := decl.Validate()
	require.True(t, issues.HasErrors())
	require.Len(t, issues, 1)
	require.Equal(t, CodeFileDirectoryClash, issues[0].Code())

	file, _ := issues[0].Attribute("file")
	other, _ := issues[0].Attribute("other")
	require.Equal(t, "lib", file)
	require.Equal(t, "lib/util.jar", other)
}

// TestIssue_Immutable verifies attributes cannot be changed through the constructor input or accessors.
func TestIssue_Immutable(t *testing.T) {
	t.Parallel()

	attrs := map[string]string{"file": "a.jar"}
	issue := NewIssue(KindError, CodeMissingFile, "file a.jar was not added", attrs)

	attrs["file"] = "changed"
	issue.Attributes()["file"] = "changed again"

	value, ok := issue.Attribute("file")
	require.True(t, ok)
	require.Equal(t, "a.jar", value)
	require.Equal(t, "[ERROR missing-file] file a.jar was not added {file=a.jar}", issue.String())
}
