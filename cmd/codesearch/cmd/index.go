package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/index"
	"github.com/aptyp78/claude-auto-dev/internal/vcs"
)

func newIndexCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the search index",
		Long: `Index the repository. The first run builds the full index; later
runs diff the indexed revision against HEAD and only re-process files
that changed. Use --force to rebuild from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, path, force)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", ".", "Repository path to index")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Full rebuild, ignoring the incremental state")

	return cmd
}

func runIndex(cmd *cobra.Command, path string, force bool) error {
	ctx := cmd.Context()
	out := newPrinter(cmd)

	e, err := openEnv(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ix, err := index.NewIndexer(e.Store, chunk.NewCodeChunker(), e.Embedder, vcs.NewGit(e.Root), index.Config{
		Root:             e.Root,
		DataDir:          e.DataDir,
		Force:            force,
		EmbedBatchSize:   e.Config.Embeddings.BatchSize,
		EmbedConcurrency: e.Config.Embeddings.Concurrency,
		MaxFileSize:      int64(e.Config.Indexer.MaxFileSizeKB) * 1024,
		Progress: func(ev index.ProgressEvent) {
			out.Progress(ev.Phase, ev.Done, ev.Total, ev.Path)
		},
	})
	if err != nil {
		return err
	}

	result, err := ix.Run(ctx)
	if err != nil {
		return err
	}

	mode := "incremental"
	if result.Full {
		mode = "full"
	}
	out.Successf("%s index complete in %s", mode, result.Duration.Round(10*time.Millisecond))
	out.Plainf("  indexed: %d files (%d chunks)", result.FilesIndexed, result.ChunksIndexed)
	if result.FilesSkipped > 0 {
		out.Plainf("  unchanged: %d files", result.FilesSkipped)
	}
	if result.FilesRenamed > 0 {
		out.Plainf("  renamed: %d files", result.FilesRenamed)
	}
	if result.FilesDeleted > 0 {
		out.Plainf("  removed: %d files", result.FilesDeleted)
	}
	if result.ChunksUnembedded > 0 {
		out.Warnf("%d chunks indexed without embeddings; semantic search skips them until a forced rebuild", result.ChunksUnembedded)
	}
	if result.Revision != "" {
		out.Plainf("  revision: %s", shortRevision(result.Revision))
	}
	return nil
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
