package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/logger"
)

// maxDeclarationSize bounds the reserved entry so a hostile archive cannot exhaust memory.
const maxDeclarationSize = 64 << 20

// Reader gives integrity-checked, random access to a published container.
type Reader struct {
	// path is the container file location.
	path string
	// codec decoded the declaration entry.
	codec codec.Codec
	// decl is parsed once by Open and never mutated.
	decl *declaration.Declaration
	// warnings are the non-blocking issues found by Open.
	warnings declaration.Issues
	// entries maps declared names to their archive entries.
	entries map[declaration.FileName]*zip.File

	// mu guards archive and closed.
	mu      sync.RWMutex
	archive *zip.ReadCloser
	closed  bool
}

// Open opens a container, decodes its declaration and checks that the
// declaration and the archive agree. It never returns a half-valid reader.
//
// Failures are distinguishable: I/O errors wrap the os error, a file that is
// not a zip archive wraps ErrInvalidArchive, a missing or malformed
// declaration wraps codec.ErrDecode, unknown digest algorithms wrap
// digest.ErrUnsupportedAlgorithm and inconsistencies are a *ValidationError.
func Open(path string) (_ *Reader, err error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		if isArchiveFormatError(err) {
			return nil, fmt.Errorf("open container %s: %w: %w", path, ErrInvalidArchive, err)
		}

		return nil, fmt.Errorf("open container %s: %w", path, err)
	}

	defer func() {
		if err != nil {
			_ = archive.Close()
		}
	}()

	registerDecompressors(&archive.Reader)

	r := &Reader{
		path:    path,
		archive: archive,
		entries: make(map[declaration.FileName]*zip.File, len(archive.File)),
	}

	declarationEntry, err := r.index()
	if err != nil {
		return nil, err
	}

	if err = r.decode(declarationEntry); err != nil {
		return nil, err
	}

	if err = r.validate(); err != nil {
		return nil, err
	}

	return r, nil
}

func isArchiveFormatError(err error) bool {
	return errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, zip.ErrChecksum)
}

// index maps payload entries by name and locates the declaration entry.
func (r *Reader) index() (*zip.File, error) {
	var declarationEntry *zip.File

	for _, file := range r.archive.File {
		switch {
		case strings.HasSuffix(file.Name, "/"):
			continue
		case codec.IsReserved(file.Name):
			c, ok := codec.ForEntry(file.Name)
			if !ok {
				// Bookkeeping written by a newer tool; it carries no payload.
				continue
			}

			if declarationEntry != nil {
				return nil, fmt.Errorf("%w: %s holds both %s and %s",
					codec.ErrDecode, r.path, declarationEntry.Name, file.Name)
			}

			declarationEntry = file
			r.codec = c

			continue
		}

		name, err := declaration.ParseFileName(file.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", r.path, ErrInvalidArchive, err)
		}

		if _, found := r.entries[name]; found {
			return nil, fmt.Errorf("%s: %w: entry %s appears twice", r.path, ErrInvalidArchive, name)
		}

		r.entries[name] = file
	}

	if declarationEntry == nil {
		return nil, fmt.Errorf("%w: %s has no declaration entry", codec.ErrDecode, r.path)
	}

	return declarationEntry, nil
}

// decode reads and parses the declaration entry.
func (r *Reader) decode(entry *zip.File) (err error) {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open declaration of %s: %w", r.path, err)
	}

	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxDeclarationSize+1))
	if err != nil {
		return fmt.Errorf("read declaration of %s: %w", r.path, err)
	}

	if len(data) > maxDeclarationSize {
		return fmt.Errorf("%w: declaration of %s exceeds %d bytes", codec.ErrDecode, r.path, maxDeclarationSize)
	}

	r.decl, err = r.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("declaration of %s: %w", r.path, err)
	}

	return nil
}

// validate rejects unknown digest algorithms explicitly and then checks that
// the declaration is consistent and matches the archive entries one to one.
func (r *Reader) validate() error {
	for _, name := range r.decl.SortedFiles() {
		if alg := r.decl.Files[name].Algorithm; !alg.Supported() {
			return fmt.Errorf("declaration of %s: file %s: %q: %w",
				r.path, name, alg, digest.ErrUnsupportedAlgorithm)
		}
	}

	issues := r.decl.Validate()

	for _, name := range r.decl.SortedFiles() {
		if _, found := r.entries[name]; !found {
			issues = append(issues, declaration.Errorf(declaration.CodeMissingEntry,
				map[string]string{"file": name.String()},
				"declared file %s is not in the archive", name))
		}
	}

	for _, name := range sortedNames(r.entries) {
		if _, declared := r.decl.Files[name]; !declared {
			issues = append(issues, declaration.Errorf(declaration.CodeOrphanEntry,
				map[string]string{"file": name.String()},
				"archive entry %s has no declared digest", name))
		}
	}

	if issues.HasErrors() {
		return &ValidationError{
			Op:     "open",
			Path:   r.path,
			Issues: issues,
		}
	}

	r.warnings = issues

	return nil
}

// Path returns the container file path.
// Path, Codec, Declaration and Warnings return values captured by Open and
// stay available after Close; every other operation fails with ErrClosed.
func (r *Reader) Path() string {
	return r.path
}

// Codec returns the codec that decoded the declaration.
//
//nolint:ireturn // Codec is the abstraction callers work with.
func (r *Reader) Codec() codec.Codec {
	return r.codec
}

// Declaration returns a copy of the parsed declaration.
func (r *Reader) Declaration() *declaration.Declaration {
	return r.decl.Clone()
}

// Warnings returns the non-blocking issues found while opening.
func (r *Reader) Warnings() declaration.Issues {
	return append(declaration.Issues(nil), r.warnings...)
}

// Entry returns the archive entry of a declared file.
func (r *Reader) Entry(name declaration.FileName) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return Entry{}, ErrClosed
	}

	file, _, err := r.lookup(name)
	if err != nil {
		return Entry{}, err
	}

	return Entry{name: name, file: file}, nil
}

// ReadFile opens a forward-only stream over a declared file.
// Streams over distinct names are independent and may be read concurrently.
// The content is not verified; use CheckHash or UnpackInto for that.
func (r *Reader) ReadFile(name declaration.FileName) (io.ReadCloser, error) {
	entry, err := r.Entry(name)
	if err != nil {
		return nil, err
	}

	return entry.Open()
}

// ReadVerified opens a stream over a declared file whose final read fails
// with a *digest.MismatchError when the content does not match the declaration.
// Consumers must not act on the data before the stream reached its end.
func (r *Reader) ReadVerified(name declaration.FileName) (io.ReadCloser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	file, expected, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	stream, err := openVerified(name, file, expected)
	if err != nil {
		return nil, err
	}

	return stream, nil
}

// CheckHash reads a declared file completely and compares its digest with
// the declared one. A mismatch is a *digest.MismatchError.
func (r *Reader) CheckHash(name declaration.FileName) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	file, expected, err := r.lookup(name)
	if err != nil {
		return err
	}

	return copyVerified(io.Discard, name, file, expected)
}

// CheckAll checks every declared file and joins all failures.
func (r *Reader) CheckAll() error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	var errs []error

	for _, name := range r.decl.SortedFiles() {
		if err := r.CheckHash(name); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// UnpackInto extracts every declared file into outputDir.
//
// Platform-independent files are always written under their declared path.
// Files of a platform module follow policy: Ignore skips them, Merge strips the
// module root and Include keeps the declared path. A nil policy is IncludeAll.
// Content is verified while streaming and the first failure aborts the unpack;
// the file that failed is removed and files written before it stay.
func (r *Reader) UnpackInto(ctx context.Context, outputDir string, policy PlatformPolicy) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	if policy == nil {
		policy = IncludeAll
	}

	plan, err := r.planUnpack(policy)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for _, item := range plan {
		if err = ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(outputDir, filepath.FromSlash(item.target.String()))
		if err = r.extract(item.name, target); err != nil {
			return err
		}

		logger.DebugKV(ctx, "Unpacked file", "file", item.name.String(), "target", target)
	}

	logger.DebugKV(ctx, "Unpack finished", "container", r.path, "files", len(plan))

	return nil
}

// unpackItem is one file scheduled for extraction.
type unpackItem struct {
	name   declaration.FileName
	target declaration.FileName
}

// planUnpack resolves every file's destination before anything is written.
func (r *Reader) planUnpack(policy PlatformPolicy) ([]unpackItem, error) {
	var (
		plan   = make([]unpackItem, 0, len(r.decl.Files))
		owners = make(map[declaration.FileName]declaration.FileName, len(r.decl.Files))
		// dirs maps every directory a target needs to the file that needs it.
		dirs = make(map[declaration.FileName]declaration.FileName, len(r.decl.Files))
	)

	for _, name := range r.decl.SortedFiles() {
		target := name

		if module, ok := r.decl.ModuleFor(name); ok {
			switch disposition := policy(module); disposition {
			case Ignore:
				continue
			case Merge:
				target = name.TrimPrefix(module.Root)
			case Include:
			default:
				return nil, fmt.Errorf("platform module %s: %w: %s", module, errUnknownDisposition, disposition)
			}
		}

		if previous, taken := owners[target]; taken {
			return nil, fmt.Errorf("%w: %s and %s both unpack to %s", ErrPathConflict, previous, name, target)
		}

		if previous, taken := dirs[target]; taken {
			return nil, fmt.Errorf("%w: %s unpacks to %s, a directory of %s", ErrPathConflict, name, target, previous)
		}

		parents := target.Parents()
		for _, parent := range parents {
			if previous, taken := owners[parent]; taken {
				return nil, fmt.Errorf("%w: %s unpacks below %s, the file %s", ErrPathConflict, name, parent, previous)
			}
		}

		for _, parent := range parents {
			if _, taken := dirs[parent]; !taken {
				dirs[parent] = name
			}
		}

		owners[target] = name
		plan = append(plan, unpackItem{name: name, target: target})
	}

	return plan, nil
}

// extract writes one verified file to target.
func (r *Reader) extract(name declaration.FileName, target string) (err error) {
	file, expected, err := r.lookup(name)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	entry := Entry{name: name, file: file}

	out, err := os.OpenFile(filepath.Clean(target), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", target, closeErr)
		}

		if err != nil {
			_ = os.Remove(target)
		}
	}()

	return copyVerified(out, name, file, expected)
}

// lookup resolves a declared name to its entry and declared digest.
func (r *Reader) lookup(name declaration.FileName) (*zip.File, digest.Digest, error) {
	expected, declared := r.decl.Files[name]
	if !declared {
		return nil, digest.Digest{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	file, found := r.entries[name]
	if !found {
		return nil, digest.Digest{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	return file, expected, nil
}

// Close releases the archive handle. Calling it again is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	if err := r.archive.Close(); err != nil {
		return fmt.Errorf("close container %s: %w", r.path, err)
	}

	return nil
}

// verifiedStream hashes an entry while it is read. The read that reaches the
// end returns a *digest.MismatchError when the content differs from the
// declaration. Decompressor and zip CRC errors are mismatches too: they mean
// the stored bytes were altered. Only file system errors pass through.
type verifiedStream struct {
	io.Closer

	verifier *digest.VerifyingReader
}

func (s *verifiedStream) Read(p []byte) (int, error) {
	n, err := s.verifier.Read(p)
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, digest.ErrHashMismatch) {
		return n, err
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return n, err
	}

	return n, s.verifier.Fail(err)
}

func openVerified(name declaration.FileName, file *zip.File, expected digest.Digest) (*verifiedStream, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", name, err)
	}

	verifier, err := digest.NewVerifyingReader(rc, expected, name.String())
	if err != nil {
		_ = rc.Close()

		return nil, err
	}

	return &verifiedStream{Closer: rc, verifier: verifier}, nil
}

// copyVerified streams an entry into dst while hashing it.
func copyVerified(dst io.Writer, name declaration.FileName, file *zip.File, expected digest.Digest) (err error) {
	stream, err := openVerified(name, file, expected)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err = io.Copy(dst, stream); err != nil {
		if errors.Is(err, digest.ErrHashMismatch) {
			return err
		}

		return fmt.Errorf("read entry %s: %w", name, err)
	}

	return nil
}

func sortedNames(entries map[declaration.FileName]*zip.File) []declaration.FileName {
	names := make([]declaration.FileName, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}

	slices.SortFunc(names, declaration.FileName.Compare)

	return names
}
