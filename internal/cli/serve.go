package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kb/internal/adapter/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve ingestion and search over HTTP until interrupted.

Routes:
  GET  /healthz
  POST /v1/documents
  GET  /v1/documents/:id
  POST /v1/search`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := httpapi.New(a.ingest, a.retrieve, a.gateway, cfg.Retrieve.Limit, log)
		return srv.Start(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}
