package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"kb/internal/domain"
	"kb/internal/usecase"
)

var (
	ingestText       string
	ingestTitle      string
	ingestSourcePath string
	ingestJSON       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest files, directories or raw text",
	Long: `Ingest .txt and .md files into the knowledge base. Directories are walked
using the configured include/exclude patterns. Content that is already stored
is reported as a duplicate and skipped.

Examples:
  kb ingest notes.md                  # Ingest one file
  kb ingest ./docs ./papers           # Ingest directories
  kb ingest --text "..." --title memo # Ingest raw text`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "raw text to ingest instead of files")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title for --text")
	ingestCmd.Flags().StringVar(&ingestSourcePath, "source-path", "", "source path recorded for --text")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestText == "" && len(args) == 0 {
		return fmt.Errorf("nothing to ingest: pass paths or --text")
	}

	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if ingestText != "" {
		res, err := a.ingest.IngestRaw(ctx, ingestText, ingestTitle, ingestSourcePath, domain.SourceTypeRaw)
		if err != nil {
			return err
		}
		if ingestJSON {
			return json.NewEncoder(out).Encode(res)
		}
		printIngestResult(cmd, "text", res)
		return nil
	}

	total := &usecase.DirResult{}
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("path does not exist: %w", err)
		}

		if !info.IsDir() {
			res, err := a.ingest.IngestFile(ctx, path)
			switch {
			case err != nil:
				total.Failed++
				total.Errors = append(total.Errors, fmt.Sprintf("%s: %v", path, err))
			case res.WasDuplicate:
				total.Duplicates++
			default:
				total.Ingested++
				total.ChunksInserted += res.ChunksInserted
			}
			if !ingestJSON {
				printIngestResult(cmd, path, res)
			}
			continue
		}

		if !ingestJSON {
			fmt.Fprintf(out, "Scanning %s...\n", path)
		}
		res, err := a.ingest.IngestDir(ctx, path, newProgress(cmd, ingestJSON))
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		total.Ingested += res.Ingested
		total.Duplicates += res.Duplicates
		total.Failed += res.Failed
		total.ChunksInserted += res.ChunksInserted
		total.Errors = append(total.Errors, res.Errors...)
	}

	if ingestJSON {
		return json.NewEncoder(out).Encode(total)
	}

	fmt.Fprintf(out, "\nIngestion complete:\n")
	fmt.Fprintf(out, "  Documents ingested: %d\n", total.Ingested)
	fmt.Fprintf(out, "  Duplicates skipped: %d\n", total.Duplicates)
	fmt.Fprintf(out, "  Failed:             %d\n", total.Failed)
	fmt.Fprintf(out, "  Chunks inserted:    %d\n", total.ChunksInserted)
	if len(total.Errors) > 0 {
		fmt.Fprintf(out, "\nWarnings:\n")
		for _, e := range total.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	if total.Failed > 0 && total.Ingested == 0 && total.Duplicates == 0 {
		return fmt.Errorf("no documents ingested")
	}
	return nil
}

func printIngestResult(cmd *cobra.Command, what string, res domain.IngestResult) {
	if res.DocumentID == 0 {
		return
	}
	if res.WasDuplicate {
		fmt.Fprintf(cmd.OutOrStdout(), "Already stored: %s (document %d)\n", what, res.DocumentID)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: document %d, %d chunks\n", what, res.DocumentID, res.ChunksInserted)
}

// newProgress renders a progress bar once the file count is known.
func newProgress(cmd *cobra.Command, quiet bool) usecase.ProgressFunc {
	if quiet {
		return nil
	}

	var (
		bar       *progressbar.ProgressBar
		startTime time.Time
	)
	return func(done, total int) {
		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
		}

		bar.Set(done)

		if done > 0 && done < total {
			rate := float64(done) / time.Since(startTime).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
