package unpack

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/domain/declaration"
	"github.com/oshokin/appkg/internal/logger"
	"github.com/oshokin/appkg/internal/platform"
)

// Options contains inputs for the unpack entry point.
type Options struct {
	// Path is the container to unpack.
	Path string
	// OutputDir receives the files. It is created when missing.
	OutputDir string
	// Ignore lists "os/arch" tags whose modules are skipped.
	Ignore []string
	// Merge lists "os/arch" tags whose modules are written without their root.
	Merge []string
	// Include lists "os/arch" tags whose modules are written under their root.
	Include []string
	// Host ignores every module not built for the running platform.
	Host bool
}

var errConflictingRules = errors.New("platform has more than one rule")

// Run builds the platform policy and unpacks the container.
func Run(ctx context.Context, opts *Options) (err error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "appkg-unpack")

	policy, err := Policy(opts)
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

	logger.InfoKV(ctx, "Unpacking container", "path", opts.Path, "output", opts.OutputDir)

	if err = r.UnpackInto(ctx, opts.OutputDir, policy); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Container unpacked", "output", opts.OutputDir, "files", Selected(r.Declaration(), policy))

	return nil
}

// Policy converts the command-line rules into a platform policy.
func Policy(opts *Options) (container.PlatformPolicy, error) {
	rules := make(container.Rules, len(opts.Ignore)+len(opts.Merge)+len(opts.Include))

	for _, group := range []struct {
		disposition container.Disposition
		tags        []string
	}{
		{container.Ignore, opts.Ignore},
		{container.Merge, opts.Merge},
		{container.Include, opts.Include},
	} {
		disposition := group.disposition

		for _, raw := range group.tags {
			tag, err := platform.ParseTag(raw)
			if err != nil {
				return nil, err
			}

			if existing, found := rules[tag]; found && existing != disposition {
				return nil, fmt.Errorf("%s: %w: %s and %s", tag, errConflictingRules, existing, disposition)
			}

			rules[tag] = disposition
		}
	}

	var fallback container.PlatformPolicy = container.IncludeAll

	if opts.Host {
		host, err := platform.Host()
		if err != nil {
			return nil, fmt.Errorf("detect host platform: %w", err)
		}

		fallback = container.HostPolicy(host)
	}

	return rules.Policy(fallback), nil
}

// Selected counts the declared files that policy does not ignore.
func Selected(decl *declaration.Declaration, policy container.PlatformPolicy) int {
	count := 0

	for name := range decl.Files {
		if module, ok := decl.ModuleFor(name); ok && policy(module) == container.Ignore {
			continue
		}

		count++
	}

	return count
}
