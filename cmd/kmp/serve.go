package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kmp.org/internal/activities"
	"kmp.org/internal/config"
	"kmp.org/internal/httpapi"
	"kmp.org/internal/notify"
	"kmp.org/internal/obs"
	"kmp.org/internal/stream"
)

func serveCommand() *cobra.Command {
	var directoryFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), config.FromContext(cmd.Context()), directoryFile)
		},
	}
	cmd.Flags().StringVar(&directoryFile, "directory", "", "members and activities YAML to import at startup")
	return cmd
}

func serveRun(ctx context.Context, cfg *config.Config, directoryFile string) error {
	if cfg == nil {
		return errors.New("no config found in context")
	}
	logger := obs.Logger()
	shutdownTimeout, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid shutdownTimeout: %w", err)
	}

	obs.Init()
	obs.SetBuildInfo(version, commit, cfg.Store)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := memberTokens(cfg)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()
	if err := b.loadDirectory(ctx, directoryFile); err != nil {
		return err
	}

	svc, err := activities.NewService(b.store, notify.NewLogSender(logger),
		activities.WithConfig(cfg.Workflow),
		activities.WithLogger(logger),
		activities.WithObserver(obs.ObserveOperation),
	)
	if err != nil {
		return err
	}

	check := httpapi.ReadyCheck{Store: b.pinger}
	api := httpapi.New(svc, check, version,
		httpapi.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodySize),
		httpapi.WithEvents(stream.New()),
		httpapi.WithTokens(tokens),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(check)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go health.Run(healthCtx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "component", programName, "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", "component", programName, "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "component", programName)
	case err = <-errCh:
		logger.Error("server failed", "component", programName, "error", err)
	}

	cancelHealth()
	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("http shutdown", "error", shutdownErr)
	}
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	logger.Info("stopped", "component", programName)
	return err
}
