package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kb/config"
	"kb/internal/bootstrap"
)

var (
	dropYes   bool
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document and chunk counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		st, err := bootstrap.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			return json.NewEncoder(out).Encode(stats)
		}
		fmt.Fprintf(out, "Store:     %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
		fmt.Fprintf(out, "Documents: %d\n", stats.Documents)
		fmt.Fprintf(out, "Chunks:    %d\n", stats.Chunks)
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete every document and chunk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dropYes {
			return fmt.Errorf("refusing to drop without --yes")
		}

		cfg := GetConfig()
		st, err := bootstrap.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.Drop(cmd.Context()); err != nil {
			return err
		}
		log.Info("store dropped", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
		fmt.Fprintln(cmd.OutOrStdout(), "Dropped all documents.")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(GetConfig())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default kb.yaml to the root directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := GetRootDir()
		path := filepath.Join(dir, "kb.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.EnsureDir(dir); err != nil {
			return err
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, dropCmd, configCmd, initCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	dropCmd.Flags().BoolVarP(&dropYes, "yes", "y", false, "confirm dropping all data")
}
