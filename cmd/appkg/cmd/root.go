package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/appkg/internal/config"
	"github.com/oshokin/appkg/internal/logger"
	"github.com/oshokin/appkg/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// overrides collects the persistent flags that win over the settings file.
	overrides config.Overrides

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:           "appkg",
		Short:         "Build, verify and unpack hash-verified application packages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(configPath, overrides)
			if err != nil {
				return err
			}

			level, _ := logger.ParseLogLevel(cfg.LogLevel)
			logger.SetLevel(level)

			return nil
		},
	}
)

// Execute runs the appkg CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&overrides.DigestAlgorithm, "algorithm", "", "digest algorithm for newly hashed files (sha256, sha512, blake3)")
	flags.StringVar(&overrides.Compression, "compression", "", "entry compression (store, deflate, zstd)")
	flags.IntVar(&overrides.CompressionLevel, "compression-level", 0, "deflate level, 1 to 9")
	flags.StringVar(&overrides.DeclarationFormat, "format", "", "declaration format (yaml, cbor)")
	flags.IntVar(&overrides.Workers, "workers", 0, "concurrent verification streams")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newPackCommand(),
		newInspectCommand(),
		newVerifyCommand(),
		newUnpackCommand(),
		newApplyCommand(),
	)
}
