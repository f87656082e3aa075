package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webstalk-archive/retriever"
	"github.com/webstalk-archive/retriever/internal/config"
	"github.com/webstalk-archive/retriever/internal/metrics"
)

var (
	cfgFile             string
	verbose             bool
	sslVerify           bool
	userAgent           string
	useServerTimestamps bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "retrieve [url] [dest-path]",
		Short: "Fetch a single URL to a local file, resumably and atomically",
		Long: `retrieve downloads one remote resource to a local file.

It tolerates partial reads, connection drops, transient 5xx errors, and
inconsistent content encodings by resuming with byte-range requests and
carrying the streaming decompressor's state across reconnects. The
destination file is only ever replaced atomically: a crash mid-download
leaves no partial file at the destination path.`,
		Args: cobra.ExactArgs(2),
		RunE: runRetrieve,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&sslVerify, "ssl-verify", true, "verify TLS certificates")
	rootCmd.Flags().StringVar(&userAgent, "user-agent", "", "custom User-Agent string")
	rootCmd.Flags().BoolVar(&useServerTimestamps, "use-server-timestamps", false, "apply the remote Last-Modified time to the downloaded file")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	url, destPath := args[0], args[1]
	if err := config.ValidateURL(url); err != nil {
		return fmt.Errorf("invalid URL %q: %w", url, err)
	}

	registry := retriever.NewRegistry()
	pool := retriever.NewPool(cfg, registry)

	mtr := metrics.New()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics, mtr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling retrieval", "signal", sig)
		cancel()
	}()
	defer cancel()

	mtr.RetrievalsStarted.Inc()
	logger.Info("starting retrieval", "url", url, "dest", destPath)

	start := time.Now()
	hstat, err := retriever.Retrieve(ctx, url, destPath, retriever.Options{
		SSLVerify:           cfg.Fetch.SSLVerify,
		UserAgent:           cfg.Fetch.UserAgent,
		UseServerTimestamps: cfg.Fetch.UseServerTimestamps,
		Logger:              logger,
		Pool:                pool,
		Registry:            registry,
		OnRetry:             mtr.ObserveRetry,
		OnCondemn:           mtr.ObserveCondemnedHost,
	})
	elapsed := time.Since(start)

	if err != nil {
		mtr.RetrievalsFailed.WithLabelValues(fmt.Sprintf("%T", err)).Inc()
		return fmt.Errorf("retrieve %s: %w", url, err)
	}

	mtr.RetrievalsOK.Inc()
	mtr.BytesDownloaded.Add(float64(hstat.BytesRead))
	fmt.Printf("retrieved %s -> %s (%d bytes in %s)\n", url, destPath, hstat.BytesRead, elapsed.Round(time.Millisecond))
	return nil
}

func serveMetrics(cfg config.MetricsConfig, mtr *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, mtr.Handler())
	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("serving metrics", "addr", addr, "path", cfg.Path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("retriever %s\n", config.Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func applyCLIOverrides(cfg *config.Config) {
	cfg.Fetch.SSLVerify = sslVerify
	if userAgent != "" {
		cfg.Fetch.UserAgent = userAgent
	}
	if useServerTimestamps {
		cfg.Fetch.UseServerTimestamps = true
	}
}
