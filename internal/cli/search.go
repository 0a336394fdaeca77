package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"kb/internal/domain"
)

const previewRunes = 200

var (
	searchLimit    int
	searchMinScore float64
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Long: `Search stored chunks by semantic similarity to the query.

Examples:
  kb search "contextual chunk embeddings"
  kb search "retry policy" --limit 10 --min-score 0.3
  kb search "schema" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "minimum similarity score")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	query := strings.Join(args, " ")

	limit := cfg.Retrieve.Limit
	if cmd.Flags().Changed("limit") {
		limit = searchLimit
	}
	minScore := cfg.Retrieve.MinScore
	if cmd.Flags().Changed("min-score") {
		minScore = &searchMinScore
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.retrieve.Search(cmd.Context(), query, limit, minScore)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"query":   query,
			"results": hits,
		})
	}

	printHits(cmd.OutOrStdout(), hits)
	return nil
}

// printHits writes one block per hit:
//
//	[1] 87.3% - title (chunk 2/5)
//	    Source: /path/to/file.md
//	    chunk text...
func printHits(w io.Writer, hits []domain.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}

	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "[%d] %.1f%% - %s (chunk %d/%d)\n", i+1, h.SimilarityScore*100, title, h.ChunkIndex+1, h.TotalChunks)
		if h.SourcePath != "" {
			fmt.Fprintf(w, "    Source: %s\n", h.SourcePath)
		}
		fmt.Fprintf(w, "    %s\n\n", preview(h.Content, previewRunes))
	}
}

// preview collapses whitespace and truncates to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
