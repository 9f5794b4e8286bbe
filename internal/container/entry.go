package container

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"fortio.org/safecast"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/oshokin/appkg/internal/domain/declaration"
)

// Compression selects how payload entries are stored.
type Compression string

const (
	// Store keeps entries uncompressed.
	Store Compression = "store"
	// Deflate uses the standard zip deflate method.
	Deflate Compression = "deflate"
	// Zstd uses zstd (zip method 93).
	Zstd Compression = "zstd"

	// DefaultCompression is used when no option says otherwise.
	DefaultCompression = Deflate

	// DefaultCompressionLevel is the deflate level used when no option says otherwise.
	DefaultCompressionLevel = 6

	// defaultFileMode is applied to entries added without an explicit mode.
	defaultFileMode fs.FileMode = 0o644
)

var errUnknownCompression = errors.New("unknown compression")

// ParseCompression converts user input into a Compression.
func ParseCompression(s string) (Compression, error) {
	compression := Compression(strings.ToLower(strings.TrimSpace(s)))

	switch compression {
	case Store, Deflate, Zstd:
		return compression, nil
	default:
		return "", fmt.Errorf("%q: %w", s, errUnknownCompression)
	}
}

// method returns the zip method id for the compression.
func (c Compression) method() uint16 {
	switch c {
	case Store:
		return zip.Store
	case Zstd:
		return zstd.ZipMethodWinZip
	case Deflate:
		return zip.Deflate
	default:
		return zip.Deflate
	}
}

// String returns the compression name.
func (c Compression) String() string {
	return string(c)
}

// registerCompressors installs the deflate and zstd encoders on a writer.
func registerCompressors(archive *zip.Writer, level int) {
	archive.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	archive.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
}

// registerDecompressors installs the zstd decoder on a reader.
// Deflate and store are built into the zip package.
func registerDecompressors(archive *zip.Reader) {
	archive.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
}

// Entry is a payload file inside an open container.
type Entry struct {
	name declaration.FileName
	file *zip.File
}

// Name returns the archive-relative file name.
func (e Entry) Name() declaration.FileName {
	return e.name
}

// Size returns the uncompressed size in bytes.
func (e Entry) Size() (int64, error) {
	size, err := safecast.Convert[int64](e.file.UncompressedSize64)
	if err != nil {
		return 0, fmt.Errorf("%s: size: %w", e.name, err)
	}

	return size, nil
}

// CompressedSize returns the stored size in bytes.
func (e Entry) CompressedSize() (int64, error) {
	size, err := safecast.Convert[int64](e.file.CompressedSize64)
	if err != nil {
		return 0, fmt.Errorf("%s: compressed size: %w", e.name, err)
	}

	return size, nil
}

// Mode returns the permission bits recorded for the entry, or 0644 when none were recorded.
func (e Entry) Mode() fs.FileMode {
	perm := e.file.Mode().Perm()
	if perm == 0 {
		return defaultFileMode
	}

	return perm
}

// Open returns a forward-only stream over the entry content.
// Every call returns an independent stream.
func (e Entry) Open() (io.ReadCloser, error) {
	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", e.name, err)
	}

	return rc, nil
}
