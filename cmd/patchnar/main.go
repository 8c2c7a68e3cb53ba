// Command patchnar rewrites a NAR stream so that every store path it
// references points into a relocated installation prefix. It reads one
// NAR from stdin and writes one NAR to stdout; ELF interpreters and
// RPATHs, script string literals and shebangs, and symlink targets are
// all rewritten on the way through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nix-community/patchnar/pipeline"
	"github.com/nix-community/patchnar/rewrite"
)

// Compiled-in defaults, settable at build time with
// -ldflags "-X main.defaultPrefix=/data/.../usr".
var (
	defaultPrefix   string
	defaultOldGlibc string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "patchnar:", err)
		os.Exit(1)
	}
}

type options struct {
	prefix       string
	glibc        string
	oldGlibc     string
	mappingsFile string
	selfMappings []string
	addPrefixTo  []string
	dataDir      string
	debug        bool
}

func newRootCommand() *cobra.Command {
	opts := new(options)
	c := &cobra.Command{
		Use:   "patchnar",
		Short: "Rewrite store paths in a NAR stream for a relocated installation",
		Long: `Patch a NAR stream for a relocated installation.

Reads a NAR from stdin, patches ELF binaries, symlinks, and scripts so
that content-addressed store paths point into the installation prefix,
and writes the modified NAR to stdout.

The worker count can be controlled with the PATCHNAR_THREADS
environment variable.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.Flags().StringVar(&opts.prefix, "prefix", defaultPrefix, "installation prefix (e.g. /data/.../usr)")
	c.Flags().StringVar(&opts.glibc, "glibc", "", "replacement glibc store path")
	c.Flags().StringVar(&opts.oldGlibc, "old-glibc", defaultOldGlibc, "original glibc store path to replace")
	c.Flags().StringVar(&opts.mappingsFile, "mappings", "", "mappings file with one OLD_PATH NEW_PATH pair per line")
	c.Flags().StringArrayVar(&opts.selfMappings, "self-mapping", nil, `mapping pair in "OLD_PATH NEW_PATH" form (repeatable)`)
	c.Flags().StringArrayVar(&opts.addPrefixTo, "add-prefix-to", nil, "path pattern to prefix inside script strings, e.g. /nix/var/ (repeatable)")
	c.Flags().StringVar(&opts.dataDir, "source-highlight-data-dir", "", "accepted for compatibility; lexers are compiled in")
	c.Flags().BoolVar(&opts.debug, "debug", false, "enable debug output")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runPatch(cmd.Context(), opts)
	}
	return c
}

func runPatch(ctx context.Context, opts *options) error {
	level := log.WarnLevel
	if opts.debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:  level,
		Prefix: "patchnar",
	})
	if opts.dataDir != "" {
		logger.Debug("ignoring --source-highlight-data-dir; lexers are compiled in", "dir", opts.dataDir)
	}

	table := rewrite.NewTable(logger)
	if opts.mappingsFile != "" {
		if err := table.LoadFile(opts.mappingsFile); err != nil {
			return errors.Wrap(err, "loading mappings")
		}
	}
	for _, m := range opts.selfMappings {
		oldPath, newPath, ok := strings.Cut(m, " ")
		if !ok {
			return errors.Errorf("--self-mapping requires %q form, got %q", "OLD_PATH NEW_PATH", m)
		}
		table.Add(oldPath, newPath)
	}

	cfg := rewrite.Config{
		Prefix:              opts.prefix,
		OldGlibc:            opts.oldGlibc,
		NewGlibc:            opts.glibc,
		ExtraPrefixPatterns: opts.addPrefixTo,
		Mappings:            table,
	}
	patcher, err := rewrite.NewPatcher(cfg, logger)
	if err != nil {
		return err
	}

	workers := workerCount()
	logger.Debug("starting",
		"prefix", cfg.Prefix,
		"glibc", cfg.NewGlibc,
		"old-glibc", cfg.OldGlibc,
		"mappings", table.Len(),
		"workers", workers)

	if err := pipeline.Run(ctx, os.Stdin, os.Stdout, patcher, pipeline.Options{Workers: workers}); err != nil {
		return err
	}
	logger.Debug("done", "stats", patcher.Stats())
	return nil
}

// workerCount honours PATCHNAR_THREADS, defaulting to the CPU count.
func workerCount() int {
	v := viper.New()
	v.SetEnvPrefix("patchnar")
	if err := v.BindEnv("threads"); err != nil {
		return runtime.NumCPU()
	}
	v.SetDefault("threads", runtime.NumCPU())
	if n := v.GetInt("threads"); n >= 1 {
		return n
	}
	return runtime.NumCPU()
}
