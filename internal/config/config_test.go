package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
)

// TestValidate fills defaults and rejects unknown values.
func TestValidate(t *testing.T) {
	t.Parallel()

	settings := new(Config)
	require.NoError(t, Validate(settings))
	require.Equal(t, Default(), settings)

	settings = &Config{DigestAlgorithm: "BLAKE3", Compression: "Zstd", DeclarationFormat: "CBOR", LogLevel: "DEBUG"}
	require.NoError(t, Validate(settings))
	require.Equal(t, digest.BLAKE3, settings.DigestAlgorithm)
	require.Equal(t, container.Zstd, settings.Compression)
	require.Equal(t, "cbor", settings.DeclarationFormat)
	require.Equal(t, "debug", settings.LogLevel)
	require.Equal(t, codec.CBOR, settings.Codec())

	bad := []*Config{
		{DigestAlgorithm: "md5"},
		{Compression: "lzma"},
		{CompressionLevel: 12},
		{DeclarationFormat: "toml"},
		{Workers: -1},
		{LogLevel: "loud"},
	}
	for _, cfg := range bad {
		require.Error(t, Validate(cfg), "%+v", cfg)
	}

	require.ErrorIs(t, Validate(nil), errConfigIsNotSet)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		DigestAlgorithm:   digest.SHA256,
		Compression:       container.Store,
		CompressionLevel:  9,
		DeclarationFormat: "cbor",
		Workers:           2,
		LogLevel:          "warn",
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoadOrDefault falls back to defaults only for a missing file.
func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("workers: [1"), 0o600))

	_, err = LoadOrDefault(broken)
	require.Error(t, err)

	require.Len(t, cfg.WriterOptions(), 4)
}

// TestResolve applies command-line overrides on top of the file.
func TestResolve(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, Save(path, &Config{Compression: container.Store, Workers: 8}))

	cfg, err := Resolve(path, Overrides{DigestAlgorithm: "sha256", DeclarationFormat: "cbor"})
	require.NoError(t, err)
	require.Equal(t, digest.SHA256, cfg.DigestAlgorithm)
	require.Equal(t, container.Store, cfg.Compression)
	require.Equal(t, "cbor", cfg.DeclarationFormat)
	require.Equal(t, 8, cfg.Workers)

	_, err = Resolve(path, Overrides{Compression: "rar"})
	require.Error(t, err)

	cfg, err = Resolve(filepath.Join(t.TempDir(), "none.yaml"), Overrides{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)
}
