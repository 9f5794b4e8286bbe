package inspect

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"

	"github.com/oshokin/appkg/internal/codec"
	"github.com/oshokin/appkg/internal/container"
	"github.com/oshokin/appkg/internal/logger"
)

// Options contains inputs for the inspect entry point.
type Options struct {
	// Path is the container to inspect.
	Path string
	// Raw prints the declaration document instead of the report.
	Raw bool
	// Output receives the report.
	Output io.Writer
}

// Run opens the container and writes the report to opts.Output.
func Run(ctx context.Context, opts *Options) (err error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "appkg-inspect")

	r, err := container.Open(opts.Path)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, issue := range r.Warnings() {
		logger.WarnKV(ctx, "Declaration warning", "issue", issue.String())
	}

	if opts.Raw {
		return writeRaw(opts.Output, r)
	}

	return writeReport(opts.Output, r)
}

func writeRaw(out io.Writer, r *container.Reader) error {
	data, err := codec.YAML.Encode(r.Declaration())
	if err != nil {
		return err
	}

	_, err = out.Write(data)

	return err
}

func writeReport(out io.Writer, r *container.Reader) error {
	decl := r.Declaration()

	var b strings.Builder

	fmt.Fprintf(&b, "Container: %s\n", r.Path())
	fmt.Fprintf(&b, "Declaration: %s\n", r.Codec().EntryName())
	fmt.Fprintf(&b, "Name: %s\n", decl.Metadata.Name)
	fmt.Fprintf(&b, "Version: %s\n", decl.Metadata.Version)

	if decl.Metadata.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", decl.Metadata.Title)
	}

	if len(decl.Modules) > 0 {
		fmt.Fprintf(&b, "Modules: %s\n", strings.Join(decl.Modules, ", "))
	}

	for _, module := range decl.PlatformModules {
		fmt.Fprintf(&b, "Platform module: %s/%s at %s (%d files)\n",
			module.OS, module.Arch, module.Root, len(decl.FilesOf(module)))
	}

	if _, err := io.WriteString(out, b.String()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nFILE\tSIZE\tSTORED\tDIGEST")

	var total uint64

	for _, name := range decl.SortedFiles() {
		entry, err := r.Entry(name)
		if err != nil {
			return err
		}

		size, stored, err := sizes(entry)
		if err != nil {
			return err
		}

		total += size

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			name, humanize.Bytes(size), humanize.Bytes(stored), decl.Files[name])
	}

	fmt.Fprintf(tw, "%d files\t%s\t\t\n", len(decl.Files), humanize.Bytes(total))

	return tw.Flush()
}

func sizes(entry container.Entry) (uint64, uint64, error) {
	size, err := entry.Size()
	if err != nil {
		return 0, 0, err
	}

	stored, err := entry.CompressedSize()
	if err != nil {
		return 0, 0, err
	}

	unsignedSize, err := safecast.Convert[uint64](size)
	if err != nil {
		return 0, 0, err
	}

	unsignedStored, err := safecast.Convert[uint64](stored)
	if err != nil {
		return 0, 0, err
	}

	return unsignedSize, unsignedStored, nil
}
