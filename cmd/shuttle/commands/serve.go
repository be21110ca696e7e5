package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackdrop/shuttle/pkg/api"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync API over HTTP",
	Long: `Run the HTTP API server. Download submission, progress queries,
cancellation and worker lifecycle are all exposed under /v1; Prometheus
metrics are served at /metrics when enabled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	apiCfg := a.cfg.API
	if serveListen != "" {
		apiCfg.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return api.NewServer(apiCfg, a.svc).Start(ctx)
}
