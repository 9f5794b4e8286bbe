package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
)

// writeBufferSize is the buffer between the zip writer and the temp file.
const writeBufferSize = 64 << 10

var (
	errSamePath       = errors.New("final and temporary paths must differ")
	errNilDeclaration = errors.New("declaration is nil")
	errEmptyFileName  = errors.New("file name is empty")
)

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	codec            codec.Codec
	compression      Compression
	compressionLevel int
	defaultAlgorithm digest.Algorithm
	modTime          time.Time
}

// WithCodec selects the declaration codec. YAML is used by default.
func WithCodec(c codec.Codec) WriterOption {
	return func(o *writerOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression selects how payload entries are stored.
func WithCompression(c Compression) WriterOption {
	return func(o *writerOptions) {
		o.compression = c
	}
}

// WithCompressionLevel sets the deflate level (1 to 9).
func WithCompressionLevel(level int) WriterOption {
	return func(o *writerOptions) {
		o.compressionLevel = level
	}
}

// WithDefaultAlgorithm sets the algorithm used to hash files the declaration does not list.
func WithDefaultAlgorithm(alg digest.Algorithm) WriterOption {
	return func(o *writerOptions) {
		o.defaultAlgorithm = alg
	}
}

// WithModTime sets the modification time recorded on every entry.
// A fixed time makes repeated packaging produce identical archives.
func WithModTime(t time.Time) WriterOption {
	return func(o *writerOptions) {
		o.modTime = t
	}
}

// FileOption configures a single AddFile call.
type FileOption func(*fileOptions)

type fileOptions struct {
	mode fs.FileMode
}

// WithMode records permission bits for the entry.
func WithMode(mode fs.FileMode) FileOption {
	return func(o *fileOptions) {
		o.mode = mode.Perm()
	}
}

// Writer assembles a container under a temporary path and publishes it on Close.
// It is not safe for concurrent use.
type Writer struct {
	// finalPath is where the container appears after a successful Close.
	finalPath string
	// tempPath holds the archive while it is being written.
	tempPath string
	// decl is the caller's declaration, copied at Create.
	decl *declaration.Declaration
	// opts are the resolved writer options.
	opts writerOptions

	file    *os.File
	buffer  *bufio.Writer
	archive *zip.Writer

	// computed holds the digest of every added file.
	computed map[declaration.FileName]digest.Digest
	// order keeps the insertion order of added files.
	order []declaration.FileName
	// warnings are the non-blocking issues of the last Close.
	warnings declaration.Issues

	// failure is the I/O error that broke the session.
	failure error
	// closed is set once Close or Abort ran; result is what it returned.
	closed bool
	result error

	// rename publishes the temp file. Tests replace it to simulate a crash.
	rename func(oldPath, newPath string) error
}

// Create starts a writing session. The temp file is created or truncated;
// the final path is not touched until Close succeeds.
func Create(finalPath, tempPath string, decl *declaration.Declaration, opts ...WriterOption) (*Writer, error) {
	if decl == nil {
		return nil, errNilDeclaration
	}

	if filepath.Clean(finalPath) == filepath.Clean(tempPath) {
		return nil, fmt.Errorf("%s: %w", finalPath, errSamePath)
	}

	options := writerOptions{
		codec:            codec.YAML,
		compression:      DefaultCompression,
		compressionLevel: DefaultCompressionLevel,
		defaultAlgorithm: digest.DefaultAlgorithm,
	}

	for _, opt := range opts {
		opt(&options)
	}

	if _, err := ParseCompression(options.compression.String()); err != nil {
		return nil, err
	}

	if !options.defaultAlgorithm.Supported() {
		return nil, fmt.Errorf("default algorithm %q: %w", options.defaultAlgorithm, digest.ErrUnsupportedAlgorithm)
	}

	if options.modTime.IsZero() {
		options.modTime = time.Now()
	}

	file, err := os.OpenFile(filepath.Clean(tempPath), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temporary container: %w", err)
	}

	buffer := bufio.NewWriterSize(file, writeBufferSize)
	archive := zip.NewWriter(buffer)
	registerCompressors(archive, options.compressionLevel)

	return &Writer{
		finalPath: finalPath,
		tempPath:  tempPath,
		decl:      decl.Clone(),
		opts:      options,
		file:      file,
		buffer:    buffer,
		archive:   archive,
		computed:  make(map[declaration.FileName]digest.Digest, len(decl.Files)),
		rename:    os.Rename,
	}, nil
}

// AddFile stores content under name, hashing it in the same pass.
// The file is hashed with the algorithm its declaration names, or with the
// default algorithm when the name is not declared.
func (w *Writer) AddFile(name declaration.FileName, content io.Reader, opts ...FileOption) error {
	switch {
	case w.closed:
		return ErrClosed
	case w.failure != nil:
		return fmt.Errorf("%w: %w", ErrSessionFailed, w.failure)
	case name.IsZero():
		return errEmptyFileName
	case name.IsReserved():
		return fmt.Errorf("%s: %w", name, ErrReservedName)
	}

	if _, found := w.computed[name]; found {
		return fmt.Errorf("%s: %w", name, ErrDuplicateName)
	}

	options := fileOptions{mode: defaultFileMode}
	for _, opt := range opts {
		opt(&options)
	}

	hasher, err := digest.NewHasher(w.algorithmFor(name))
	if err != nil {
		return err
	}

	header := &zip.FileHeader{
		Name:     name.String(),
		Method:   w.opts.compression.method(),
		Modified: w.opts.modTime,
	}
	header.SetMode(options.mode)

	entry, err := w.archive.CreateHeader(header)
	if err != nil {
		return w.fail(fmt.Errorf("create entry %s: %w", name, err))
	}

	if _, err = io.Copy(io.MultiWriter(entry, hasher), content); err != nil {
		return w.fail(fmt.Errorf("write entry %s: %w", name, err))
	}

	w.computed[name] = hasher.Digest()
	w.order = append(w.order, name)

	return nil
}

// algorithmFor picks the hashing algorithm for name.
func (w *Writer) algorithmFor(name declaration.FileName) digest.Algorithm {
	if declared, ok := w.decl.Files[name]; ok && declared.Algorithm.Supported() {
		return declared.Algorithm
	}

	return w.opts.defaultAlgorithm
}

// fail marks the session broken. The zip stream is unusable after a partial write.
func (w *Writer) fail(err error) error {
	w.failure = err

	return err
}

// Added returns the names added so far, in insertion order.
func (w *Writer) Added() []declaration.FileName {
	return slices.Clone(w.order)
}

// Close reconciles the added files with the declaration and publishes the
// container. On validation failure nothing is published, the temp file is
// removed and a *ValidationError lists every issue. Calling Close again
// returns the first result.
func (w *Writer) Close() error {
	if w.closed {
		return w.result
	}

	w.closed = true
	w.result = w.publish()

	return w.result
}

func (w *Writer) publish() error {
	if w.failure != nil {
		w.discard()

		return fmt.Errorf("%w: %w", ErrSessionFailed, w.failure)
	}

	issues := w.reconcile()
	if issues.HasErrors() {
		w.discard()

		return &ValidationError{
			Op:     "publish",
			Path:   w.finalPath,
			Issues: issues,
		}
	}

	w.warnings = issues

	if err := w.finish(); err != nil {
		w.discard()

		return err
	}

	if err := w.rename(w.tempPath, w.finalPath); err != nil {
		_ = os.Remove(w.tempPath)

		return fmt.Errorf("publish container %s: %w", w.finalPath, err)
	}

	return nil
}

// reconcile collects the declaration's own issues plus every difference
// between the declared and the added files.
func (w *Writer) reconcile() declaration.Issues {
	issues := w.decl.Validate()

	for _, name := range w.decl.SortedFiles() {
		declared := w.decl.Files[name]

		computed, added := w.computed[name]
		if !added {
			issues = append(issues, declaration.Errorf(declaration.CodeMissingFile,
				map[string]string{"file": name.String()},
				"declared file %s was not added", name))

			continue
		}

		// Unsupported algorithms are already reported by Validate.
		if !declared.Algorithm.Supported() {
			continue
		}

		if !declared.Equal(computed) {
			issues = append(issues, declaration.Errorf(declaration.CodeDigestMismatch,
				map[string]string{
					"file":     name.String(),
					"declared": declared.String(),
					"computed": computed.String(),
				},
				"file %s does not match its declared digest", name))
		}
	}

	for _, name := range w.order {
		if _, declared := w.decl.Files[name]; !declared {
			issues = append(issues, declaration.Errorf(declaration.CodeUndeclaredFile,
				map[string]string{
					"file":     name.String(),
					"computed": w.computed[name].String(),
				},
				"added file %s is not declared", name))
		}
	}

	return issues
}

// finish writes the declaration entry and makes the temp file durable.
func (w *Writer) finish() error {
	data, err := w.opts.codec.Encode(w.decl)
	if err != nil {
		return fmt.Errorf("encode declaration: %w", err)
	}

	header := &zip.FileHeader{
		Name:     w.opts.codec.EntryName(),
		Method:   zip.Deflate,
		Modified: w.opts.modTime,
	}
	header.SetMode(defaultFileMode)

	entry, err := w.archive.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create declaration entry: %w", err)
	}

	if _, err = entry.Write(data); err != nil {
		return fmt.Errorf("write declaration entry: %w", err)
	}

	if err = w.archive.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	if err = w.buffer.Flush(); err != nil {
		return fmt.Errorf("flush container: %w", err)
	}

	if err = w.file.Sync(); err != nil {
		return fmt.Errorf("sync container: %w", err)
	}

	file := w.file
	w.file = nil

	if err = file.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}

	return nil
}

// discard closes and removes the temp file, ignoring errors.
func (w *Writer) discard() {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	_ = os.Remove(w.tempPath)
}

// Abort ends the session without publishing and removes the temp file.
// Calling Abort after Close has no effect.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}

	w.closed = true
	w.result = ErrAborted

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.file = nil
			_ = os.Remove(w.tempPath)

			return fmt.Errorf("abort: %w", err)
		}

		w.file = nil
	}

	if err := os.Remove(w.tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("abort: remove temporary container: %w", err)
	}

	return nil
}

// Warnings returns the non-blocking issues found by a successful Close.
func (w *Writer) Warnings() declaration.Issues {
	return slices.Clone(w.warnings)
}

// FinalPath returns where the container is published.
func (w *Writer) FinalPath() string {
	return w.finalPath
}
