package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aptyp78/claude-auto-dev/internal/errors"
	"github.com/aptyp78/claude-auto-dev/internal/index"
	"github.com/aptyp78/claude-auto-dev/internal/logging"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := newPrinter(cmd)

	e, err := openEnv(ctx, ".")
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	stats, err := e.Store.Stats(ctx)
	if err != nil {
		return err
	}

	out.Plainf("project:   %s", e.Root)
	out.Plainf("data dir:  %s", e.DataDir)
	out.Plainf("files:     %d", stats.Files)
	out.Plainf("chunks:    %d", stats.Chunks)
	out.Plainf("symbols:   %d", stats.Symbols)
	out.Plainf("patterns:  %d", stats.Patterns)
	out.Plainf("vectors:   %d", stats.Vectors)

	st, err := index.LoadState(index.StatePath(e.DataDir))
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeStateCorrupt {
			out.Warnf("index state snapshot is corrupt; next index run rebuilds from scratch")
			return nil
		}
		return err
	}
	if st == nil {
		out.Plainf("state:     none (run 'codesearch index')")
		return nil
	}

	out.Plainf("model:     %s (%d dims)", st.EmbedModel, st.Dimensions)
	if st.LastRevision != "" {
		out.Plainf("revision:  %s", shortRevision(st.LastRevision))
	}
	out.Plainf("updated:   %s", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	if logPath, err := logging.FindLogFile(""); err == nil {
		out.Plainf("debug log: %s", logPath)
	}
	return nil
}
