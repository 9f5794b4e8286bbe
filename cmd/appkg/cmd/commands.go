package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/appkg/internal/service/apply"
	"github.com/oshokin/appkg/internal/service/inspect"
	"github.com/oshokin/appkg/internal/service/pack"
	"github.com/oshokin/appkg/internal/service/unpack"
	"github.com/oshokin/appkg/internal/service/verify"
)

func newPackCommand() *cobra.Command {
	options := new(pack.Options)

	command := &cobra.Command{
		Use:   "pack [source-dir] [output]",
		Short: "Build a container from a directory",
		Long: "Hash every file under the source directory, merge the digests into the declaration " +
			"skeleton and publish the container atomically at the output path.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.ConfigPath = configPath
			options.Overrides = overrides
			options.SourceDir = args[0]
			options.Output = args[1]

			return pack.Run(cmd.Context(), options)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&options.DeclarationPath, "declaration", "d", "", "YAML declaration skeleton")
	flags.StringVar(&options.Name, "name", "", "package name")
	flags.StringVar(&options.Version, "pkg-version", "", "package version")
	flags.StringVar(&options.Title, "title", "", "human-readable application name")
	flags.StringSliceVar(&options.Modules, "module", nil, "required module identifier (repeatable)")
	flags.StringSliceVar(&options.PlatformModules, "platform", nil, "platform module as os/arch=root (repeatable)")
	flags.BoolVar(&options.Strict, "strict", false, "do not declare files missing from the skeleton")

	return command
}

func newInspectCommand() *cobra.Command {
	options := new(inspect.Options)

	command := &cobra.Command{
		Use:   "inspect [container]",
		Short: "Print the declaration of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Path = args[0]
			options.Output = cmd.OutOrStdout()

			return inspect.Run(cmd.Context(), options)
		},
	}

	command.Flags().BoolVar(&options.Raw, "raw", false, "print the declaration document as YAML")

	return command
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [container]",
		Short: "Check every declared digest of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verify.Run(cmd.Context(), &verify.Options{
				ConfigPath: configPath,
				Overrides:  overrides,
				Path:       args[0],
			})
		},
	}
}

func newUnpackCommand() *cobra.Command {
	options := new(unpack.Options)

	command := &cobra.Command{
		Use:   "unpack [container] [output-dir]",
		Short: "Extract a container, filtering platform modules",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Path = args[0]
			options.OutputDir = args[1]

			return unpack.Run(cmd.Context(), options)
		},
	}

	flags := command.Flags()
	flags.StringSliceVar(&options.Ignore, "ignore", nil, "skip modules of os/arch (repeatable)")
	flags.StringSliceVar(&options.Merge, "merge", nil, "write modules of os/arch without their root (repeatable)")
	flags.StringSliceVar(&options.Include, "include", nil, "write modules of os/arch under their root (repeatable)")
	flags.BoolVar(&options.Host, "host", false, "ignore modules not built for this machine")

	return command
}

func newApplyCommand() *cobra.Command {
	options := new(apply.Options)

	command := &cobra.Command{
		Use:   "apply [container] [install-dir]",
		Short: "Update an installed tree from a container",
		Long: "Replace every installed file whose digest differs from the container, merging the " +
			"host platform module into the tree. Files executed by running processes are never replaced.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Path = args[0]
			options.InstallDir = args[1]

			return apply.Run(cmd.Context(), options)
		},
	}

	command.Flags().BoolVar(&options.DryRun, "dry-run", false, "report changes without writing")

	return command
}
