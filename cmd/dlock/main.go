package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dlock/dlock/internal/config"
	"github.com/dlock/dlock/internal/output"
	"github.com/dlock/dlock/pkg/dockerfile"
	"github.com/dlock/dlock/pkg/pin"
	"github.com/dlock/dlock/pkg/registry"
)

var (
	// Version information (set by build)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global flags
	cfgFile   string
	verbosity int
	log       *output.Log
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dlock",
	Short: "Lock Dockerfile base images to registry digests",
	Long: `Dlock pins the base images of a Dockerfile to their registry digests,
so that builds keep using the exact images that were current when the
file was locked. Everything except FROM instructions is preserved
byte for byte.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = output.New(os.Stderr, verbosity)
	},
}

// pinCmd represents the pin command
var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin base images to their current digests",
	Long: `Pin rewrites FROM instructions to reference their base image by
digest. Images that already carry a digest are left alone unless
--upgrade is given. Use '-' as the file name to read from stdin and
write to stdout.`,
	RunE: runPinCommand,
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that base images are pinned and current",
	Long: `Check reports base images that are not pinned to a digest, or whose
pinned digest no longer matches what the registry serves for their
tag. The exit status is non-zero when any image needs attention.`,
	RunE: runCheckCommand,
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve IMAGE",
	Short: "Print the digest-pinned form of an image reference",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolveCommand,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Dlock version: %s\n", version)
		fmt.Printf("Git commit: %s\n", commit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dlock.json)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase output verbosity")

	// Pin command flags
	pinCmd.Flags().StringSliceP("file", "f", []string{"Dockerfile"}, "Dockerfile to pin ('-' for stdin/stdout)")
	pinCmd.Flags().Bool("dry-run", false, "print the result instead of writing it back")
	pinCmd.Flags().BoolP("upgrade", "u", false, "move existing pins to the current digest for their tag")

	// Check command flags
	checkCmd.Flags().StringSliceP("file", "f", []string{"Dockerfile"}, "Dockerfile to check ('-' for stdin)")

	// Add subcommands
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

// newPinner wires the registry client, retry and cache layers into a
// pinner according to the loaded configuration.
func newPinner() (*pin.Pinner, *config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	client, err := registry.New(cfg.RegistryConfig("dlock/" + version))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create registry client: %w", err)
	}

	var resolver registry.Resolver = client
	resolver = registry.NewRetryingResolver(resolver, cfg.RetryConfig())
	resolver = registry.NewCachingResolver(resolver, registry.NewDigestCache(0))

	cleanup := func() { client.Close() }
	return pin.New(resolver, log), cfg, cleanup, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		cancel()
	}()

	return ctx, cancel
}

// readDockerfile parses a Dockerfile from a path, or from stdin for "-".
func readDockerfile(path string) (*dockerfile.Document, error) {
	if path == "-" {
		return dockerfile.ParseReader(os.Stdin, "")
	}
	return dockerfile.ParseFile(path)
}

// runPinCommand handles the pin command execution
func runPinCommand(cmd *cobra.Command, args []string) error {
	files, _ := cmd.Flags().GetStringSlice("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	upgrade, _ := cmd.Flags().GetBool("upgrade")

	pinner, cfg, cleanup, err := newPinner()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	opts := pin.Options{Upgrade: upgrade, Concurrency: cfg.Concurrency}
	for _, file := range files {
		doc, err := readDockerfile(file)
		if err != nil {
			return err
		}

		report, err := pinner.Pin(ctx, doc, opts)
		if err != nil {
			return err
		}

		switch {
		case file == "-" || dryRun:
			fmt.Print(doc.String())
		case report.Modified():
			if err := doc.WriteFile(file); err != nil {
				return err
			}
		default:
			log.Print(1, "%s: nothing to pin", file)
		}
	}
	return nil
}

// runCheckCommand handles the check command execution
func runCheckCommand(cmd *cobra.Command, args []string) error {
	files, _ := cmd.Flags().GetStringSlice("file")

	pinner, cfg, cleanup, err := newPinner()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	opts := pin.Options{Concurrency: cfg.Concurrency}
	stale := 0
	for _, file := range files {
		doc, err := readDockerfile(file)
		if err != nil {
			return err
		}

		report, err := pinner.Check(ctx, doc, opts)
		if err != nil {
			return err
		}
		if report.Modified() {
			stale++
		}
	}
	if stale > 0 {
		return fmt.Errorf("%d file(s) have unpinned or outdated base images", stale)
	}
	return nil
}

// runResolveCommand handles the resolve command execution
func runResolveCommand(cmd *cobra.Command, args []string) error {
	pinner, _, cleanup, err := newPinner()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	pinned, err := pinner.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(pinned)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
