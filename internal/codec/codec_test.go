package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
)

func sampleDeclaration(t *testing.T) *declaration.Declaration {
	t.Helper()

	jar, err := digest.OfBytes(digest.SHA512, []byte("jar"))
	require.NoError(t, err)

	dll, err := digest.OfBytes(digest.BLAKE3, []byte("dll"))
	require.NoError(t, err)

	return declaration.New(
		declaration.Metadata{Name: "hello", Version: "1.2.3", Title: "Hello"},
		[]string{"java.base", "java.logging"},
		map[declaration.FileName]digest.Digest{
			declaration.MustParseFileName("app.jar"):               jar,
			declaration.MustParseFileName("natives/win64/lib.dll"): dll,
		},
		[]declaration.PlatformModule{{
			OS:   "windows",
			Arch: "x64",
			Root: declaration.MustParseFileName("natives/win64"),
		}},
	)
}

// TestRoundTrip ensures decode(encode(d)) == d for every codec.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range All() {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()

			want := sampleDeclaration(t)

			data, err := c.Encode(want)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			require.True(t, want.Equal(got), "declarations differ after round trip")
		})
	}
}

// TestRoundTrip_Empty covers a declaration without modules, files or platform modules.
func TestRoundTrip_Empty(t *testing.T) {
	t.Parallel()

	want := declaration.New(declaration.Metadata{Name: "empty"}, []string{}, nil, nil)

	for _, c := range All() {
		data, err := c.Encode(want)
		require.NoError(t, err)

		got, err := c.Decode(data)
		require.NoError(t, err)
		require.True(t, want.Equal(got), c.Name())
	}
}

// TestCBOR_Deterministic verifies identical declarations encode to identical bytes.
func TestCBOR_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := CBOR.Encode(sampleDeclaration(t))
	require.NoError(t, err)

	second, err := CBOR.Encode(sampleDeclaration(t))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

// TestDecode_Errors checks that malformed documents wrap ErrDecode.
func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not yaml":       "::: [",
		"wrong format":   "format: appkg/v9\nmetadata:\n  name: x\n  version: \"1\"\n",
		"missing format": "metadata:\n  name: x\n  version: \"1\"\n",
		"bad path":       "format: appkg/v1\nmetadata:\n  name: x\n  version: \"1\"\nfiles:\n  ../evil: sha256:00\n",
		"bad digest":     "format: appkg/v1\nmetadata:\n  name: x\n  version: \"1\"\nfiles:\n  a.jar: nothex\n",
		"unknown field":  "format: appkg/v1\nmetadata:\n  name: x\n  version: \"1\"\nextra: true\n",
		"bad root":       "format: appkg/v1\nmetadata:\n  name: x\n  version: \"1\"\nplatform_modules:\n  - {os: linux, arch: x64, root: /abs}\n",
	}

	for name, input := range cases {
		_, err := YAML.Decode([]byte(input))
		require.ErrorIs(t, err, ErrDecode, name)
	}

	_, err := CBOR.Decode([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrDecode)
}

// TestDecode_KeepsUnknownAlgorithm ensures unknown digest tags reach the reader instead of failing decode.
func TestDecode_KeepsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	input := "format: appkg/v1\nmetadata:\n  name: x\n  version: \"1\"\nfiles:\n  a.jar: sha3-256:abcd\n"

	decl, err := YAML.Decode([]byte(input))
	require.NoError(t, err)
	require.Equal(t, digest.Algorithm("sha3-256"), decl.Files[declaration.MustParseFileName("a.jar")].Algorithm)
}

// TestLookup resolves codecs by name and by reserved entry.
func TestLookup(t *testing.T) {
	t.Parallel()

	c, err := Lookup(" CBOR ")
	require.NoError(t, err)
	require.Equal(t, CBOR, c)

	_, err = Lookup("toml")
	require.Error(t, err)

	c, ok := ForEntry(".appkg/declaration.yaml")
	require.True(t, ok)
	require.Equal(t, YAML, c)

	_, ok = ForEntry("app.jar")
	require.False(t, ok)
	require.True(t, IsReserved(YAML.EntryName()))
	require.NotEqual(t, YAML.EntryName(), CBOR.EntryName())
}
