// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/config"
	"github.com/crewkeeper/crewkeeper/internal/httpapi"
	"github.com/crewkeeper/crewkeeper/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the access rule API",
		Long: `Serve the /authorization/rule API, plus metrics and health checks on
the metrics address. Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}
}

func runServe(cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Database.AutoMigrate && !cfg.Store.Memory {
		if err := migrateUp(cfg.Database.URL, deps); err != nil {
			return err
		}
	}

	b, err := openBackend(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer b.Close()
	b.startCache(ctx, cfg.Store.CacheStaleness)

	verifier, err := httpapi.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}

	var (
		obsServer *observability.Server
		metrics   *observability.HTTPMetrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, b.Ready)
		entry.RegisterMetrics(obsServer.Registry())
		metrics = observability.NewHTTPMetrics(obsServer.Registry())

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	api := httpapi.New(b.entries, b.resolver, verifier, metrics)
	apiServer, apiErrChan, err := startAPI(cfg, api.Routes())
	if err != nil {
		stopObservability(obsServer, cfg)
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	cmd.Printf("API listening on %s\n", apiServer.addr)
	slog.InfoContext(ctx, "crewkeeper ready",
		"api_addr", apiServer.addr, "memory", cfg.Store.Memory, "entry_cache", b.cache != nil)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping API server", "error", err)
	}
	stopObservability(obsServer, cfg)

	slog.Info("shutdown complete")
	return nil
}

type apiServer struct {
	srv  *http.Server
	addr string
}

// startAPI binds the API listener and serves h on it. The returned channel
// reports a serve failure and is closed when the server stops.
func startAPI(cfg *config.Config, h http.Handler) (*apiServer, <-chan error, error) {
	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return nil, nil, oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()
	return &apiServer{srv: srv, addr: listener.Addr().String()}, errCh, nil
}

func stopObservability(s *observability.Server, cfg *config.Config) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It returns
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
