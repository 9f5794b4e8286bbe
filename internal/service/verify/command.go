package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/appkg/internal/config"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/logger"
)

// Options contains inputs for the verify entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Overrides are command-line values that win over the settings file.
	Overrides config.Overrides
	// Path is the container to verify.
	Path string
}

// Failure is a declared file that did not pass verification.
type Failure struct {
	// Name is the declared file.
	Name declaration.FileName
	// Err is the verification error, usually a *digest.MismatchError.
	Err error
}

// Report is the outcome of checking every declared file.
type Report struct {
	// Checked is the number of files read.
	Checked int
	// Failures lists the files that failed, in declaration order.
	Failures []Failure
}

// Err joins every failure, or returns nil when all files passed.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure.Err)
	}

	return fmt.Errorf("%w: %d of %d files: %w", errVerificationFailed, len(r.Failures), r.Checked, errors.Join(errs...))
}

var errVerificationFailed = errors.New("verification failed")

// Run opens the container, checks every file and logs each failure.
func Run(ctx context.Context, opts *Options) (err error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "appkg-verify")

	cfg, err := config.Resolve(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return err
	}

	r, err := container.Open(opts.Path)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	report, err := Check(ctx, r, cfg.Workers)
	if err != nil {
		return err
	}

	for _, failure := range report.Failures {
		logger.ErrorKV(ctx, "File failed verification", "file", failure.Name.String(), "error", failure.Err)
	}

	if err = report.Err(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Container verified", "path", opts.Path, "files", report.Checked)

	return nil
}

// Check hashes every declared file with at most workers concurrent streams.
// Only cancellation stops the run early; file failures are collected.
func Check(ctx context.Context, r *container.Reader, workers int) (*Report, error) {
	names := r.Declaration().SortedFiles()
	results := make([]error, len(names))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(workers, 1))

	var (
		mu      sync.Mutex
		checked int
	)

	for i, name := range names {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			results[i] = r.CheckHash(name)

			if errors.Is(results[i], container.ErrClosed) {
				return results[i]
			}

			mu.Lock()
			checked++
			mu.Unlock()

			logger.DebugKV(ctx, "Checked file", "file", name.String(), "ok", results[i] == nil)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Checked: checked}

	for i, err := range results {
		if err != nil {
			report.Failures = append(report.Failures, Failure{Name: names[i], Err: err})
		}
	}

	return report, nil
}
