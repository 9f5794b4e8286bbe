package pack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/config"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func options(t *testing.T, source, output string) *Options {
	t.Helper()

	return &Options{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		SourceDir:  source,
		Output:     output,
		Name:       "hello",
		Version:    "1.0.0",
	}
}

// TestPack_DeclaresEveryFile hashes the whole tree and publishes a valid container.
func TestPack_DeclaresEveryFile(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"app.jar":               "jar",
		"a.txt":                 "a",
		"a/b.txt":               "b",
		"natives/win64/lib.dll": "dll",
	})

	output := filepath.Join(t.TempDir(), "hello.appkg")
	opts := options(t, source, output)
	opts.PlatformModules = []string{"windows/x64=natives/win64/"}
	opts.Modules = []string{"java.base"}
	opts.Overrides = config.Overrides{DeclarationFormat: "cbor", Compression: "zstd"}

	result, err := Pack(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 4, result.Files)
	require.Equal(t, uint64(len("jar")+len("a")+len("b")+len("dll")), result.PayloadSize)
	require.Positive(t, result.ContainerSize)

	r, err := container.Open(output)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	decl := r.Declaration()
	require.Equal(t, "cbor", r.Codec().Name())
	require.Len(t, decl.Files, 4)
	require.Equal(t, []string{"java.base"}, decl.Modules)
	require.Len(t, decl.PlatformModules, 1)
	require.Equal(t, digest.DefaultAlgorithm, decl.Files[declaration.MustParseFileName("a/b.txt")].Algorithm)
	require.NoError(t, r.CheckAll())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(output), ".*.tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

// TestPack_SkeletonMismatch refuses to publish when the skeleton disagrees with the tree.
func TestPack_SkeletonMismatch(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{"app.jar": "jar", "extra.txt": "x"})

	wrong, err := digest.OfBytes(digest.SHA256, []byte("something else"))
	require.NoError(t, err)

	skeleton := filepath.Join(t.TempDir(), "skeleton.yaml")
	require.NoError(t, os.WriteFile(skeleton, []byte(
		"format: appkg/v1\nmetadata:\n  name: hello\n  version: \"1\"\nfiles:\n  app.jar: "+wrong.String()+"\n"), 0o600))

	output := filepath.Join(t.TempDir(), "hello.appkg")
	opts := options(t, source, output)
	opts.DeclarationPath = skeleton

	_, err = Pack(context.Background(), opts)
	require.ErrorIs(t, err, container.ErrValidationFailed)
	require.Contains(t, err.Error(), declaration.CodeDigestMismatch)
	require.NoFileExists(t, output)

	opts.Strict = true

	_, err = Pack(context.Background(), opts)
	require.ErrorIs(t, err, container.ErrValidationFailed)
	require.Contains(t, err.Error(), declaration.CodeUndeclaredFile)

	entries, err := os.ReadDir(filepath.Dir(output))
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestPack_Errors covers unusable inputs.
func TestPack_Errors(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{"app.jar": "jar"})

	_, err := Pack(context.Background(), options(t, source, filepath.Join(source, "out.appkg")))
	require.ErrorIs(t, err, errOutputInsideSource)

	_, err = Pack(context.Background(), options(t, filepath.Join(source, "app.jar"), filepath.Join(t.TempDir(), "x")))
	require.ErrorIs(t, err, errSourceNotDirectory)

	opts := options(t, source, filepath.Join(t.TempDir(), "x.appkg"))
	opts.PlatformModules = []string{"windows"}

	_, err = Pack(context.Background(), opts)
	require.ErrorIs(t, err, errPlatformSpec)

	reserved := t.TempDir()
	writeTree(t, reserved, map[string]string{".appkg/declaration.yaml": "x"})

	_, err = Pack(context.Background(), options(t, reserved, filepath.Join(t.TempDir(), "x.appkg")))
	require.ErrorIs(t, err, errReservedSourceFile)
}

// TestParsePlatformModule reads os/arch=root specs.
func TestParsePlatformModule(t *testing.T) {
	t.Parallel()

	module, err := ParsePlatformModule("linux/aarch64=natives/linux-arm64")
	require.NoError(t, err)
	require.Equal(t, "linux", module.OS)
	require.Equal(t, "aarch64", module.Arch)
	require.Equal(t, "natives/linux-arm64", module.Root.String())

	for _, spec := range []string{"linux=x", "/x64=x", "linux/x64=", "linux/x64=../x"} {
		_, err = ParsePlatformModule(spec)
		require.Error(t, err, spec)
	}
}

// TestTempPath stays in the output directory and never repeats.
func TestTempPath(t *testing.T) {
	t.Parallel()

	output := filepath.Join("dist", "hello.appkg")

	first, second := tempPath(output), tempPath(output)
	require.NotEqual(t, first, second)
	require.Equal(t, "dist", filepath.Dir(first))
}
