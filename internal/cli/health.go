package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kb/internal/bootstrap"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the embedding service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		status, err := bootstrap.NewGateway(cfg).Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("embedding service at %s is unreachable: %w", cfg.Embedding.ServerURL, err)
		}

		out := cmd.OutOrStdout()
		if healthJSON {
			if err := json.NewEncoder(out).Encode(status); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Status:       %s\n", status.Status)
			fmt.Fprintf(out, "Model loaded: %t\n", status.ModelLoaded)
			if status.Device != "" {
				fmt.Fprintf(out, "Device:       %s\n", status.Device)
			}
			if status.ModelPath != "" {
				fmt.Fprintf(out, "Model path:   %s\n", status.ModelPath)
			}
		}

		if !status.Ready() {
			return fmt.Errorf("embedding service is not ready")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output as JSON")
}
