package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kb/config"
	"kb/internal/bootstrap"
)

var launchWait time.Duration

var embedderCmd = &cobra.Command{
	Use:   "embedder",
	Short: "Manage the embedding service",
}

var embedderLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start the embedding server from embedding.launch",
	Long: `Start the embedding server process described by embedding.launch in the
config file, forwarding its output. With --wait the command blocks until the
server reports ready before returning control to the process.

Example config:
  embedding:
    launch:
      command: ["python", "-m", "embed_server", "--port", "8765"]
      env:
        MODEL_PATH: ./models/contextual
      dir: ./server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		proc, err := launchCommand(ctx, cfg.Embedding.Launch)
		if err != nil {
			return err
		}
		proc.Stdout = cmd.OutOrStdout()
		proc.Stderr = cmd.ErrOrStderr()

		log.Info("launching embedding server", "command", []string(cfg.Embedding.Launch.Command), "dir", proc.Dir)
		if err := proc.Start(); err != nil {
			return fmt.Errorf("failed to start embedding server: %w", err)
		}

		if launchWait > 0 {
			if err := waitReady(ctx, cfg, launchWait); err != nil {
				log.Warn("embedding server not ready", "error", err)
			} else {
				log.Info("embedding server ready", "url", cfg.Embedding.ServerURL)
			}
		}

		err = proc.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(embedderCmd)
	embedderCmd.AddCommand(embedderLaunchCmd)
	embedderLaunchCmd.Flags().DurationVar(&launchWait, "wait", 0, "poll health until ready, up to this long")
}

// launchCommand builds the server process. Launch env entries are appended
// to the current environment so they override inherited values.
func launchCommand(ctx context.Context, launch config.LaunchConfig) (*exec.Cmd, error) {
	if len(launch.Command) == 0 {
		return nil, errors.New("embedding.launch.command is not configured")
	}

	proc := exec.CommandContext(ctx, launch.Command[0], launch.Command[1:]...)
	proc.Env = append(os.Environ(), launch.Env.Environ()...)
	if launch.Dir != "" {
		proc.Dir = launch.Dir
	}
	return proc, nil
}

func waitReady(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gw := bootstrap.NewGateway(cfg)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if status, err := gw.Health(ctx); err == nil && status.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
