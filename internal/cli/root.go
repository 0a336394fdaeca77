package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kb/config"
	"kb/internal/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	storeDriver string
	logLevel    string
	log         *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Knowledge base - contextual embedding index over your documents",
	Long: `kb ingests text and markdown documents, embeds every chunk of a document
together through a contextual embedding service, and answers semantic search
queries over the stored chunks.

Example usage:
  kb ingest ./notes                 # Ingest a directory
  kb search "how does late chunking work"
  kb serve                          # Expose the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if storeDriver != "" {
			cfg.Store.Driver = storeDriver
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if !filepath.IsAbs(cfg.Store.Path) {
			cfg.Store.Path = filepath.Join(rootDir, cfg.Store.Path)
		}

		log = logger.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, YAML or TOML (default is ./kb.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "document store driver: bolt, sqlite or memory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
