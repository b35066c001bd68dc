package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/server"
)

type flags struct {
	configPath     string
	port           string
	tcpAddr        string
	allowedOrigins []string
	maxMessageSize int64
	logLevel       string
	logJSON        bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:          "gorelay",
		Short:        "Start the GoRelay message relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(f.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cmd, &f, cfg)
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&f.port, "port", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&f.tcpAddr, "tcp-addr", "", "raw TCP listen address; empty disables it")
	cmd.Flags().StringSliceVar(&f.allowedOrigins, "allowed-origins", nil, "origins allowed to open WebSocket sessions")
	cmd.Flags().Int64Var(&f.maxMessageSize, "max-message-size", 0, "largest accepted envelope in bytes")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "write logs as JSON")
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, f *flags, cfg *server.Config) {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("tcp-addr") {
		cfg.TCPAddr = f.tcpAddr
	}
	if changed("allowed-origins") {
		cfg.AllowedOrigins = f.allowedOrigins
	}
	if changed("max-message-size") && f.maxMessageSize > 0 {
		cfg.MaxMessageSize = f.maxMessageSize
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-json") {
		cfg.LogJSON = f.logJSON
	}
}

func run(cfg *server.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		return err
	}

	srv := server.New(cfg, logger, nil)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info().
		Str("http", srv.HTTPAddr()).
		Str("tcp", srv.TCPAddr()).
		Msg("Starting GoRelay server")

	// Setup signal handling for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
