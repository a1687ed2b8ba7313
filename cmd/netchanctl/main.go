package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danmuck/netchan/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var metricsAddr string
	rootCmd := &cobra.Command{
		Use:   "netchanctl",
		Short: "Drive and test framed TCP network channels",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.InitLogger("netchanctl")
			if metricsAddr != "" {
				startMetrics(metricsAddr)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address")

	rootCmd.AddCommand(
		connectCmd(),
		serveCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netchanctl: %v\n", err)
		os.Exit(1)
	}
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
