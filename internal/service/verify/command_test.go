package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
)

// build writes a stored container with n files and returns its path and contents.
func build(t *testing.T, n int) (string, map[string][]byte) {
	t.Helper()

	files := make(map[string][]byte, n)
	sums := make(map[declaration.FileName]digest.Digest, n)

	for i := range n {
		name := fmt.Sprintf("lib/file-%02d.bin", i)
		files[name] = []byte(fmt.Sprintf("content of file number %02d", i))

		sum, err := digest.OfBytes(digest.BLAKE3, files[name])
		require.NoError(t, err)

		sums[declaration.MustParseFileName(name)] = sum
	}

	decl := declaration.New(declaration.Metadata{Name: "many", Version: "1"}, nil, sums, nil)
	path := filepath.Join(t.TempDir(), "many.appkg")

	w, err := container.Create(path, path+".tmp", decl, container.WithCompression(container.Store))
	require.NoError(t, err)

	for name, content := range files {
		require.NoError(t, w.AddFile(declaration.MustParseFileName(name), bytes.NewReader(content)))
	}

	require.NoError(t, w.Close())

	return path, files
}

func corrupt(t *testing.T, path string, content []byte) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	idx := bytes.Index(data, content)
	require.GreaterOrEqual(t, idx, 0)

	data[idx+len(content)-1] ^= 0x20

	require.NoError(t, os.WriteFile(path, data, 0o600))
}

// TestCheck_ReportsEveryFailure keeps going after the first bad file.
func TestCheck_ReportsEveryFailure(t *testing.T) {
	t.Parallel()

	path, files := build(t, 12)
	corrupt(t, path, files["lib/file-03.bin"])
	corrupt(t, path, files["lib/file-09.bin"])

	r, err := container.Open(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	report, err := Check(context.Background(), r, 3)
	require.NoError(t, err)
	require.Equal(t, 12, report.Checked)
	require.Len(t, report.Failures, 2)
	require.Equal(t, "lib/file-03.bin", report.Failures[0].Name.String())
	require.Equal(t, "lib/file-09.bin", report.Failures[1].Name.String())
	require.ErrorIs(t, report.Err(), digest.ErrHashMismatch)
	require.ErrorIs(t, report.Err(), errVerificationFailed)
}

// TestRun passes for an intact container and fails for a corrupt one.
func TestRun(t *testing.T) {
	t.Parallel()

	path, files := build(t, 4)
	opts := &Options{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"), Path: path}

	require.NoError(t, Run(context.Background(), opts))

	corrupt(t, path, files["lib/file-01.bin"])
	require.ErrorIs(t, Run(context.Background(), opts), digest.ErrHashMismatch)
}

// TestCheck_Canceled stops when the context is done.
func TestCheck_Canceled(t *testing.T) {
	t.Parallel()

	path, _ := build(t, 3)

	r, err := container.Open(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Check(ctx, r, 1)
	require.ErrorIs(t, err, context.Canceled)
}
