package pack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/config"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/logger"
)

// Options contains inputs for the pack entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Overrides are command-line values that win over the settings file.
	Overrides config.Overrides
	// SourceDir is the directory whose files become the payload.
	SourceDir string
	// Output is the final container path.
	Output string
	// DeclarationPath is an optional YAML declaration skeleton.
	DeclarationPath string
	// Metadata fields replace the skeleton's values when set.
	Name    string
	Version string
	Title   string
	// Modules are appended to the skeleton's module list.
	Modules []string
	// PlatformModules are "os/arch=root" specs appended to the skeleton.
	PlatformModules []string
	// Strict keeps the skeleton's file list untouched.
	Strict bool
}

// Result summarizes a published container.
type Result struct {
	// Path is where the container was published.
	Path string
	// Files is the number of payload files.
	Files int
	// PayloadSize is the total uncompressed payload size in bytes.
	PayloadSize uint64
	// ContainerSize is the size of the published file in bytes.
	ContainerSize uint64
	// Warnings are the non-blocking issues reported by the writer.
	Warnings declaration.Issues
}

var (
	errSourceNotDirectory = errors.New("source is not a directory")
	errOutputInsideSource = errors.New("output must not be inside the source directory")
	errReservedSourceFile = errors.New("source file uses the reserved prefix")
	errPlatformSpec       = errors.New("platform module must look like os/arch=root")
)

// sourceFile is a regular file found under the source directory.
type sourceFile struct {
	name declaration.FileName
	path string
	mode fs.FileMode
	size int64
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "appkg-pack")

	result, err := Pack(ctx, opts)
	if err != nil {
		return err
	}

	for _, issue := range result.Warnings {
		logger.WarnKV(ctx, "Declaration warning", "issue", issue.String())
	}

	logger.InfoKV(ctx, "Container published",
		"path", result.Path,
		"files", result.Files,
		"payload", humanize.Bytes(result.PayloadSize),
		"size", humanize.Bytes(result.ContainerSize))

	return nil
}

// Pack builds and publishes the container described by opts.
func Pack(ctx context.Context, opts *Options) (*Result, error) {
	cfg, err := config.Resolve(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return nil, err
	}

	files, err := scan(opts.SourceDir, opts.Output)
	if err != nil {
		return nil, err
	}

	decl, err := buildDeclaration(opts)
	if err != nil {
		return nil, err
	}

	if !opts.Strict {
		if err = declareMissing(ctx, decl, files, cfg.DigestAlgorithm); err != nil {
			return nil, err
		}
	}

	return write(ctx, cfg, opts.Output, decl, files)
}

// scan lists the regular files under dir in byte order of their names.
func scan(dir, output string) ([]sourceFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, errSourceNotDirectory)
	}

	absSource, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	absOutput, err := filepath.Abs(output)
	if err != nil {
		return nil, err
	}

	if rel, relErr := filepath.Rel(absSource, absOutput); relErr == nil && filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%s: %w", output, errOutputInsideSource)
	}

	var files []sourceFile

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		name, err := declaration.ParseFileName(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		if name.IsReserved() {
			return fmt.Errorf("%s: %w", name, errReservedSourceFile)
		}

		fileInfo, err := entry.Info()
		if err != nil {
			return err
		}

		files = append(files, sourceFile{
			name: name,
			path: path,
			mode: fileInfo.Mode().Perm(),
			size: fileInfo.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}

	slices.SortFunc(files, func(a, b sourceFile) int {
		return a.name.Compare(b.name)
	})

	return files, nil
}

// buildDeclaration loads the skeleton and applies the metadata options.
func buildDeclaration(opts *Options) (*declaration.Declaration, error) {
	decl := declaration.New(declaration.Metadata{}, nil, nil, nil)

	if opts.DeclarationPath != "" {
		data, err := os.ReadFile(filepath.Clean(opts.DeclarationPath))
		if err != nil {
			return nil, fmt.Errorf("read declaration skeleton: %w", err)
		}

		decl, err = codec.YAML.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("declaration skeleton %s: %w", opts.DeclarationPath, err)
		}
	}

	if opts.Name != "" {
		decl.Metadata.Name = opts.Name
	}

	if opts.Version != "" {
		decl.Metadata.Version = opts.Version
	}

	if opts.Title != "" {
		decl.Metadata.Title = opts.Title
	}

	decl.Modules = append(decl.Modules, opts.Modules...)

	for _, spec := range opts.PlatformModules {
		module, err := ParsePlatformModule(spec)
		if err != nil {
			return nil, err
		}

		decl.PlatformModules = append(decl.PlatformModules, module)
	}

	return decl, nil
}

// ParsePlatformModule reads "os/arch=root".
func ParsePlatformModule(spec string) (declaration.PlatformModule, error) {
	tag, rootText, found := strings.Cut(strings.TrimSpace(spec), "=")
	if !found {
		return declaration.PlatformModule{}, fmt.Errorf("%q: %w", spec, errPlatformSpec)
	}

	osName, arch, found := strings.Cut(tag, "/")
	if !found || osName == "" || arch == "" {
		return declaration.PlatformModule{}, fmt.Errorf("%q: %w", spec, errPlatformSpec)
	}

	root, err := declaration.ParseFileName(strings.TrimSuffix(rootText, "/"))
	if err != nil {
		return declaration.PlatformModule{}, fmt.Errorf("%q: %w", spec, err)
	}

	return declaration.PlatformModule{OS: osName, Arch: arch, Root: root}, nil
}

// declareMissing hashes every source file the declaration does not list.
func declareMissing(
	ctx context.Context,
	decl *declaration.Declaration,
	files []sourceFile,
	alg digest.Algorithm,
) error {
	for _, file := range files {
		if _, declared := decl.Digest(file.name); declared {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		sum, err := hashFile(file.path, alg)
		if err != nil {
			return err
		}

		decl.SetFile(file.name, sum)
		logger.DebugKV(ctx, "Declared file", "file", file.name.String(), "digest", sum.String())
	}

	return nil
}

func hashFile(path string, alg digest.Algorithm) (_ digest.Digest, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return digest.Digest{}, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return digest.Of(alg, f)
}

// tempPath returns a unique hidden path next to output.
func tempPath(output string) string {
	dir, base := filepath.Split(output)

	return filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
}

// write streams every source file through a container writer.
func write(
	ctx context.Context,
	cfg *config.Config,
	output string,
	decl *declaration.Declaration,
	files []sourceFile,
) (*Result, error) {
	w, err := container.Create(output, tempPath(output), decl, cfg.WriterOptions()...)
	if err != nil {
		return nil, err
	}

	result := &Result{Path: output}

	for _, file := range files {
		if err = ctx.Err(); err == nil {
			err = addFile(w, file)
		}

		if err != nil {
			_ = w.Abort()

			return nil, err
		}

		size, convErr := safecast.Convert[uint64](file.size)
		if convErr != nil {
			_ = w.Abort()

			return nil, fmt.Errorf("%s: %w", file.name, convErr)
		}

		result.Files++
		result.PayloadSize += size
	}

	if err = w.Close(); err != nil {
		return nil, err
	}

	result.Warnings = w.Warnings()

	info, err := os.Stat(output)
	if err != nil {
		return nil, fmt.Errorf("stat published container: %w", err)
	}

	if result.ContainerSize, err = safecast.Convert[uint64](info.Size()); err != nil {
		return nil, err
	}

	return result, nil
}

func addFile(w *container.Writer, file sourceFile) (err error) {
	f, err := os.Open(filepath.Clean(file.path))
	if err != nil {
		return fmt.Errorf("open %s: %w", file.path, err)
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return w.AddFile(file.name, f, container.WithMode(file.mode))
}
