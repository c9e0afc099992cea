// voiceloop is the voice turn-taking engine CLI. The console command runs
// the engine against scripted strategies on stdin/stdout; run wires the
// real cloud and on-device strategies from the environment.
package main

import (
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/solacehealth/voiceloop/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "voiceloop",
	Short:        "Voice turn-taking and provider-fallback engine",
	Long:         `voiceloop drives voice conversations for a wellness companion: listening with cloud-to-local speech recognition fallback, speaking with the same fallback for synthesis, and running periodic safety check-ins.`,
	Version:      version.Short(),
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("VOICELOOP_LOG_FORMAT")
	logLevel := os.Getenv("VOICELOOP_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// serveMetrics exposes the expvar counters when an address is configured.
func serveMetrics(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
}

func main() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(downloadCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
