package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aptyp78/claude-auto-dev/internal/assemble"
	"github.com/aptyp78/claude-auto-dev/internal/search"
	"github.com/aptyp78/claude-auto-dev/internal/store"
	"github.com/aptyp78/claude-auto-dev/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var (
		mode         string
		collection   string
		limit        int
		minScore     float64
		symbolTypes  []string
		filePaths    []string
		excludePaths []string
		jsonOutput   bool
		assembleCtx  bool
		budget       int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search the indexed repository. Modes:

  hybrid    fuse keyword and semantic rankings (default)
  exact     symbol-name lookup
  keyword   sparse term matching only
  semantic  dense vector similarity only

With --context the top results are packed into a token-budgeted context
payload instead of a result list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, searchOptions{
				query:        strings.Join(args, " "),
				mode:         mode,
				collection:   collection,
				limit:        limit,
				minScore:     minScore,
				symbolTypes:  symbolTypes,
				filePaths:    filePaths,
				excludePaths: excludePaths,
				jsonOutput:   jsonOutput,
				assembleCtx:  assembleCtx,
				budget:       budget,
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Search mode: exact, keyword, semantic, hybrid")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Restrict to one collection: files, symbols, semantic, patterns")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (0 = config default)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results below this score")
	cmd.Flags().StringSliceVar(&symbolTypes, "symbol-type", nil, "Restrict exact mode to symbol kinds (function, method, class)")
	cmd.Flags().StringSliceVar(&filePaths, "path-prefix", nil, "Only results under these path prefixes")
	cmd.Flags().StringSliceVar(&excludePaths, "exclude", nil, "Drop results under these path prefixes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit results as JSON")
	cmd.Flags().BoolVar(&assembleCtx, "context", false, "Assemble results into a token-budgeted context payload")
	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget for --context (0 = config default)")

	return cmd
}

type searchOptions struct {
	query        string
	mode         string
	collection   string
	limit        int
	minScore     float64
	symbolTypes  []string
	filePaths    []string
	excludePaths []string
	jsonOutput   bool
	assembleCtx  bool
	budget       int
}

func runSearch(cmd *cobra.Command, opts searchOptions) error {
	ctx := cmd.Context()
	out := newPrinter(cmd)

	parsedMode, err := search.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, ".")
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	engine, err := search.NewEngine(e.Store, e.Embedder, search.Config{
		DefaultLimit: e.Config.Search.DefaultLimit,
		MaxLimit:     e.Config.Search.MaxLimit,
		RRFConstant:  e.Config.Search.RRFConstant,
	})
	if err != nil {
		return err
	}

	minScore := opts.minScore
	if minScore == 0 {
		minScore = e.Config.Search.MinScore
	}

	resp, err := engine.Search(ctx, search.Query{
		Text:         opts.query,
		Mode:         parsedMode,
		Collection:   store.Collection(opts.collection),
		SymbolTypes:  opts.symbolTypes,
		FilePaths:    opts.filePaths,
		ExcludePaths: opts.excludePaths,
		MinScore:     minScore,
		Limit:        opts.limit,
	})
	if err != nil {
		return err
	}
	if resp.Partial {
		out.Warnf("one search leg unavailable, results come from the surviving leg only")
	}

	if opts.assembleCtx {
		return printContext(cmd, e, out, resp, opts.budget)
	}
	if opts.jsonOutput {
		return printJSON(cmd, resp)
	}
	printResults(out, resp)
	return nil
}

func printResults(out *ui.Printer, resp *search.Response) {
	if len(resp.Results) == 0 {
		out.Plainf("no results")
		return
	}
	for i, r := range resp.Results {
		if r.Pattern != nil {
			out.Plainf("%2d. [pattern %s] %s  (used %d times)", i+1, r.Pattern.Type, r.Pattern.Name, r.Pattern.UsageCount)
			if r.Pattern.Description != "" {
				out.Plainf("    %s", firstLine(r.Pattern.Description))
			}
			continue
		}
		if r.Chunk == nil {
			if r.File != nil {
				out.Plainf("%2d. %s  [%s %.4f]", i+1, r.File.Path, r.Stage, r.Score)
			}
			continue
		}
		out.Plainf("%2d. %s:%d-%d  [%s %.4f]", i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.Stage, r.Score)
		if r.Symbol != nil {
			out.Plainf("    %s %s", r.Symbol.Kind, r.Symbol.Name)
		} else if r.Chunk.SymbolName != "" {
			out.Plainf("    %s", r.Chunk.SymbolName)
		}
		out.Plainf("    %s", firstLine(r.Chunk.Content))
	}
}

func printContext(cmd *cobra.Command, e *env, out *ui.Printer, resp *search.Response, budget int) error {
	if budget <= 0 {
		budget = e.Config.Assembler.TotalBudget
	}

	patterns, err := e.Store.QueryPatterns(cmd.Context(), "", 50)
	if err != nil {
		return err
	}

	assembled := assemble.Assemble(resp.Results, patterns, budget)
	out.Plainf("%s", assembled.Markdown())
	out.Plainf("tokens: %d of %d budget", assembled.TokensUsed, assembled.Budget)
	return nil
}

type jsonResult struct {
	Path      string  `json:"path,omitempty"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Score     float64 `json:"score"`
	Stage     string  `json:"stage"`
	Symbol    string  `json:"symbol,omitempty"`
	Pattern   string  `json:"pattern,omitempty"`
	Content   string  `json:"content,omitempty"`
}

func printJSON(cmd *cobra.Command, resp *search.Response) error {
	results := make([]jsonResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		jr := jsonResult{
			Score: r.Score,
			Stage: string(r.Stage),
		}
		if r.Chunk != nil {
			jr.Path = r.Chunk.FilePath
			jr.StartLine = r.Chunk.StartLine
			jr.EndLine = r.Chunk.EndLine
			jr.Content = r.Chunk.Content
		} else if r.File != nil {
			jr.Path = r.File.Path
		}
		if r.Symbol != nil {
			jr.Symbol = r.Symbol.Name
		}
		if r.Pattern != nil {
			jr.Pattern = r.Pattern.Name
		}
		results = append(results, jr)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Results []jsonResult `json:"results"`
		Partial bool         `json:"partial"`
	}{Results: results, Partial: resp.Partial})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
