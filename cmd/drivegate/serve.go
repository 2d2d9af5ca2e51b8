package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"drivegate/pkg/audit"
	"drivegate/pkg/auth"
	"drivegate/pkg/config"
	"drivegate/pkg/consent"
	"drivegate/pkg/drive"
	"drivegate/pkg/gateway"
	"drivegate/pkg/memdrive"
	"drivegate/pkg/metrics"
	"drivegate/pkg/rpc"
	"drivegate/pkg/store"
	"drivegate/pkg/types"
)

func serveCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Long: `Start the gateway. Permission prompts and drive creation requests are
asked on this terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			logger := setupLogger(cfg.Logging, verbose)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := store.Open(store.Options{
		Dir:      cfg.Store.Dir,
		InMemory: cfg.Store.Type == "memory",
		Logger:   logger.Named("store"),
	})
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := drive.NewStaticNames(cfg.NameTable())
	if err != nil {
		return fmt.Errorf("invalid name table: %w", err)
	}
	allowance, err := cfg.Gateway.Allowance()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var gw *gateway.Gateway
	terminal := consent.NewTerminal(os.Stdin, os.Stdout, func(ctx context.Context, req consent.ModalRequest) (consent.ModalResult, error) {
		if req.Kind != consent.ModalCreateDrive {
			return consent.ModalResult{}, fmt.Errorf("unsupported creation flow %q", req.Kind)
		}
		url, err := gw.CreateDrive(ctx, types.Host(), gateway.CreateOptions{
			Title:       req.Fields["title"],
			Description: req.Fields["description"],
			Author:      req.Fields["author"],
		})
		if err != nil {
			return consent.ModalResult{}, err
		}
		return consent.ModalResult{URL: url}, nil
	})

	gw, err = gateway.New(gateway.Config{
		Engine:           memdrive.New(memdrive.Options{Logger: logger.Named("engine")}),
		Names:            names,
		Grants:           db,
		Consent:          terminal,
		Configs:          db,
		Queries:          memdrive.QueryEngine{},
		Audit:            audit.MultiSink{db, audit.NewLogSink(logger)},
		DefaultTimeout:   cfg.Gateway.DefaultTimeout,
		DefaultAllowance: allowance,
		PromptRate:       rate.Limit(cfg.Gateway.PromptRate),
		PromptBurst:      cfg.Gateway.PromptBurst,
		Logger:           logger,
		Metrics:          metrics.NewGatewayMetrics(registry),
	})
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddress != "" {
		metricsServer := metrics.StartServer(cfg.Server.MetricsAddress, registry, logger)
		defer metricsServer.Close()
	}

	lis, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}

	var serverOpts []grpc.ServerOption
	tlsConfig, err := auth.ServerConfig(cfg.Server.TLS)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	srv := rpc.NewServer(gw, rpc.ServerOptions{
		Grants:     db,
		Audit:      db,
		Token:      cfg.Server.PrivilegedToken,
		HostOrigin: cfg.Gateway.HostOrigin,
		Logger:     logger,
	}).NewGRPCServer(serverOpts...)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", zap.String("address", lis.Addr().String()), zap.Bool("tls", tlsConfig != nil))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	shutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	select {
	case <-stopped:
	case <-shutdown.Done():
		logger.Warn("Graceful shutdown timed out, forcing stop")
		srv.Stop()
	}

	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
