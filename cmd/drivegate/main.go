package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drivegate/pkg/config"
)

var (
	configFile string
	verbose    bool
)

// Version is set at build time.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "drivegate",
		Short: "Capability-mediated gateway for hyper:// drives",
		Long: `drivegate serves versioned hyper:// drives to untrusted applications.
Every operation is checked against the caller's grants, the drive's quota
and a deadline, and is recorded in the audit log.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
		grantsCmd(),
		auditCmd(),
		infoCmd(),
		statCmd(),
		catCmd(),
		putCmd(),
		lsCmd(),
		mkdirCmd(),
		rmCmd(),
		queryCmd(),
		mountCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drivegate %s\n", Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig, verbose bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
