package unpack

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/platform"
)

var (
	windows = declaration.PlatformModule{OS: "windows", Arch: "x64", Root: declaration.MustParseFileName("natives/win64")}
	linux   = declaration.PlatformModule{OS: "linux", Arch: "x64", Root: declaration.MustParseFileName("natives/linux64")}
)

// TestPolicy applies explicit rules before the fallback.
func TestPolicy(t *testing.T) {
	t.Parallel()

	policy, err := Policy(&Options{Ignore: []string{"windows/amd64"}, Merge: []string{"Linux/x86_64"}})
	require.NoError(t, err)
	require.Equal(t, container.Ignore, policy(windows))
	require.Equal(t, container.Merge, policy(linux))

	policy, err = Policy(&Options{})
	require.NoError(t, err)
	require.Equal(t, container.Include, policy(windows))

	for range 8 {
		_, err = Policy(&Options{Ignore: []string{"windows/x64"}, Include: []string{"windows/amd64"}})
		require.ErrorIs(t, err, errConflictingRules)
		require.EqualError(t, err, "windows/x64: platform has more than one rule: ignore and include")
	}

	_, err = Policy(&Options{Merge: []string{"windows"}})
	require.Error(t, err)
}

// TestPolicy_Host ignores modules of other platforms.
func TestPolicy_Host(t *testing.T) {
	t.Parallel()

	host, err := platform.Host()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}

	policy, err := Policy(&Options{Host: true})
	require.NoError(t, err)

	native := declaration.PlatformModule{OS: host.OS, Arch: host.Arch, Root: declaration.MustParseFileName("native")}
	foreign := declaration.PlatformModule{OS: "plan9", Arch: "mips", Root: declaration.MustParseFileName("foreign")}

	require.Equal(t, container.Include, policy(native))
	require.Equal(t, container.Ignore, policy(foreign))

	// Explicit rules still win over host mode.
	policy, err = Policy(&Options{Host: true, Merge: []string{host.String()}})
	require.NoError(t, err)
	require.Equal(t, container.Merge, policy(native))
}

// TestSelected counts only the files the policy writes.
func TestSelected(t *testing.T) {
	t.Parallel()

	sum, err := digest.OfBytes(digest.SHA512, []byte("x"))
	require.NoError(t, err)

	decl := declaration.New(declaration.Metadata{Name: "hello"}, nil,
		map[declaration.FileName]digest.Digest{
			declaration.MustParseFileName("app.jar"):                sum,
			declaration.MustParseFileName("natives/win64/lib.dll"):  sum,
			declaration.MustParseFileName("natives/linux64/lib.so"): sum,
		},
		[]declaration.PlatformModule{windows, linux})

	policy, err := Policy(&Options{Ignore: []string{"windows/x64"}})
	require.NoError(t, err)
	require.Equal(t, 2, Selected(decl, policy))
	require.Equal(t, 3, Selected(decl, container.IncludeAll))
}

// TestRun unpacks with merged windows files.
func TestRun(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"app.jar":                []byte("jar"),
		"natives/win64/lib.dll":  []byte("dll"),
		"natives/linux64/lib.so": []byte("so"),
	}

	sums := make(map[declaration.FileName]digest.Digest, len(files))

	for name, content := range files {
		sum, err := digest.OfBytes(digest.SHA512, content)
		require.NoError(t, err)

		sums[declaration.MustParseFileName(name)] = sum
	}

	decl := declaration.New(declaration.Metadata{Name: "hello", Version: "1"}, nil, sums,
		[]declaration.PlatformModule{windows, linux})
	path := filepath.Join(t.TempDir(), "hello.appkg")

	w, err := container.Create(path, path+".tmp", decl)
	require.NoError(t, err)

	for name, content := range files {
		require.NoError(t, w.AddFile(declaration.MustParseFileName(name), bytes.NewReader(content)))
	}

	require.NoError(t, w.Close())

	out := filepath.Join(t.TempDir(), "install")
	require.NoError(t, Run(context.Background(), &Options{
		Path:      path,
		OutputDir: out,
		Merge:     []string{"windows/x64"},
		Ignore:    []string{"linux/x64"},
	}))

	require.FileExists(t, filepath.Join(out, "app.jar"))
	require.FileExists(t, filepath.Join(out, "lib.dll"))
	require.NoFileExists(t, filepath.Join(out, "natives", "linux64", "lib.so"))
}
