// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aptyp78/claude-auto-dev/internal/config"
	"github.com/aptyp78/claude-auto-dev/internal/embed"
	"github.com/aptyp78/claude-auto-dev/internal/errors"
	"github.com/aptyp78/claude-auto-dev/internal/logging"
	"github.com/aptyp78/claude-auto-dev/internal/store"
	"github.com/aptyp78/claude-auto-dev/internal/ui"
	"github.com/aptyp78/claude-auto-dev/pkg/version"
)

// dataDirName is the per-repository index directory.
const dataDirName = ".codesearch"

var (
	debugMode      bool
	noColor        bool
	plainOutput    bool
	loggingCleanup func()
)

// NewRootCmd creates the codesearch root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codesearch",
		Short: "Local semantic code search",
		Long: `codesearch indexes a repository into a hybrid (keyword + semantic)
search index and answers queries against it. Indexing is incremental:
re-runs only touch files the version control history says have changed.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codesearch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codesearch/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Force plain line-based output")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
		return err
	}
	return nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug_logging_enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func newPrinter(cmd *cobra.Command) *ui.Printer {
	var opts []ui.Option
	if noColor {
		opts = append(opts, ui.WithNoColor())
	}
	if plainOutput {
		opts = append(opts, ui.WithPlain())
	}
	return ui.NewPrinter(cmd.OutOrStdout(), opts...)
}

// env holds everything a command needs against one repository.
type env struct {
	Root     string
	DataDir  string
	Config   *config.Config
	Store    *store.IndexStore
	Embedder embed.Embedder
}

// openEnv locates the repository, loads config, and opens the store and
// embedder. Callers must Close.
func openEnv(ctx context.Context, startDir string) (*env, error) {
	root, err := config.FindProjectRoot(startDir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	dataDir := filepath.Join(root, dataDirName)
	idx, err := store.Open(dataDir, store.Options{
		Dimensions:    embedder.Dimensions(),
		EmbedderModel: embedder.ModelName(),
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	return &env{
		Root:     root,
		DataDir:  dataDir,
		Config:   cfg,
		Store:    idx,
		Embedder: embedder,
	}, nil
}

// Close releases the store and embedder.
func (e *env) Close() error {
	err := e.Store.Close()
	if cerr := e.Embedder.Close(); err == nil {
		err = cerr
	}
	return err
}
