package apply

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/digest"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/logger"
	"github.com/oshokin/appkg/internal/platform"
)

// Options are inputs accepted by the apply entry point.
type Options struct {
	// Path is the container holding the new release.
	Path string
	// InstallDir is the installed application tree.
	InstallDir string
	// DryRun reports what would change without touching the tree.
	DryRun bool
}

// Result lists what an apply run did.
type Result struct {
	// Updated are the install-relative paths that were replaced or created.
	Updated []string
	// Unchanged are the paths whose installed digest already matched.
	Unchanged []string
}

var (
	errFileInUse   = errors.New("file is executed by a running process")
	errTargetClash = errors.New("two declared files target the same installed path")
)

// runner holds the state of a single apply execution.
type runner struct {
	// reader is the open container.
	reader *container.Reader
	// installDir is the tree being updated.
	installDir string
	// host selects the platform module that is merged into the tree.
	host platform.Tag
	// processes lists running processes; tests replace it.
	processes func() ([]ps.Process, error)
	// dryRun skips every write.
	dryRun bool
}

// target is one declared file and where it lives in the install tree.
type target struct {
	name     declaration.FileName
	relative string
	path     string
	expected digest.Digest
}

// Run executes the apply lifecycle and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (err error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "appkg-apply")

	host, err := platform.Host()
	if err != nil {
		return fmt.Errorf("detect host platform: %w", err)
	}

	if err = os.MkdirAll(opts.InstallDir, 0o755); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	release, err := acquireMarker(ctx, opts.InstallDir)
	if err != nil {
		return err
	}

	defer release()

	r, err := container.Open(opts.Path)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	u := &runner{
		reader:     r,
		installDir: opts.InstallDir,
		host:       host,
		processes:  ps.Processes,
		dryRun:     opts.DryRun,
	}

	result, err := u.run(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Apply failed", "error", err)

		return err
	}

	logger.InfoKV(ctx, "Apply completed",
		"updated", len(result.Updated), "unchanged", len(result.Unchanged), "dry_run", opts.DryRun)

	return nil
}

// run compares, guards and replaces.
func (u *runner) run(ctx context.Context) (*Result, error) {
	targets, err := u.plan()
	if err != nil {
		return nil, err
	}

	result := new(Result)

	var stale []target

	for _, t := range targets {
		changed, err := u.differs(t)
		if err != nil {
			return nil, err
		}

		if !changed {
			result.Unchanged = append(result.Unchanged, t.relative)
			logger.DebugKV(ctx, "File is up to date", "file", t.relative)

			continue
		}

		stale = append(stale, t)
	}

	if err = u.ensureNotRunning(stale); err != nil {
		return nil, err
	}

	for _, t := range stale {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Updating file", "file", t.relative, "dry_run", u.dryRun)

		if !u.dryRun {
			if err = u.replace(t); err != nil {
				return nil, fmt.Errorf("update %s: %w", t.relative, err)
			}
		}

		result.Updated = append(result.Updated, t.relative)
	}

	return result, nil
}

// plan maps declared files onto the install tree: shared files keep their
// path, host module files lose the module root and other modules are skipped.
func (u *runner) plan() ([]target, error) {
	decl := u.reader.Declaration()
	owners := make(map[string]declaration.FileName, len(decl.Files))
	targets := make([]target, 0, len(decl.Files))

	for _, name := range decl.SortedFiles() {
		relative := name

		if module, ok := decl.ModuleFor(name); ok {
			tag, err := platform.Detect(module.OS, module.Arch)
			if err != nil || tag != u.host {
				continue
			}

			relative = name.TrimPrefix(module.Root)
		}

		if previous, taken := owners[relative.String()]; taken {
			return nil, fmt.Errorf("%w: %s and %s", errTargetClash, previous, name)
		}

		owners[relative.String()] = name
		targets = append(targets, target{
			name:     name,
			relative: relative.String(),
			path:     filepath.Join(u.installDir, filepath.FromSlash(relative.String())),
			expected: decl.Files[name],
		})
	}

	return targets, nil
}

// differs reports whether the installed file is missing or has another digest.
func (u *runner) differs(t target) (_ bool, err error) {
	f, err := os.Open(filepath.Clean(t.path))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("open installed %s: %w", t.relative, err)
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	installed, err := digest.Of(t.expected.Algorithm, f)
	if err != nil {
		return false, fmt.Errorf("hash installed %s: %w", t.relative, err)
	}

	return !installed.Equal(t.expected), nil
}

// ensureNotRunning fails when a running process executes a file about to change.
func (u *runner) ensureNotRunning(targets []target) error {
	if len(targets) == 0 {
		return nil
	}

	processList, err := u.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	names := make(map[string]string, len(targets))
	for _, t := range targets {
		names[strings.ToLower(filepath.Base(t.path))] = t.relative
	}

	thisProcessID := os.Getpid()

	var busy []string

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if relative, found := names[strings.ToLower(process.Executable())]; found {
			busy = append(busy, fmt.Sprintf("%s (pid %d)", relative, process.Pid()))
		}
	}

	if len(busy) > 0 {
		slices.Sort(busy)

		return fmt.Errorf("%w: %s", errFileInUse, strings.Join(busy, ", "))
	}

	return nil
}

// replace swaps the installed file for the container entry.
func (u *runner) replace(t target) (err error) {
	entry, err := u.reader.Entry(t.name)
	if err != nil {
		return err
	}

	verified, err := u.reader.ReadVerified(t.name)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := verified.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err = os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}

	// go-update renames the current file aside first, so the target must exist.
	if _, err = os.Stat(t.path); errors.Is(err, fs.ErrNotExist) {
		var placeholder *os.File

		if placeholder, err = os.OpenFile(filepath.Clean(t.path), os.O_WRONLY|os.O_CREATE, entry.Mode()); err != nil {
			return err
		}

		defer func() {
			if err != nil {
				_ = os.Remove(t.path)
				_ = os.Remove(oldPath(t.path))
			}
		}()

		if err = placeholder.Close(); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: t.path,
		TargetMode: entry.Mode(),
	}

	if hash, ok := t.expected.Algorithm.CryptoHash(); ok {
		options.Checksum = t.expected.Sum
		options.Hash = hash
	}

	if err = goupdate.Apply(verified, options); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("%w (rollback failed: %w)", err, rollbackErr)
		}

		return err
	}

	if _, err = os.Stat(oldPath(t.path)); err == nil {
		_ = os.Remove(oldPath(t.path))
	}

	return nil
}

// oldPath is where go-update moves the replaced file.
func oldPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".old")
}
