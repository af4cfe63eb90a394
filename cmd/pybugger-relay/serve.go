package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilfoa/pybugger-relay/internal/config"
	"github.com/wilfoa/pybugger-relay/internal/httpapi"
	"github.com/wilfoa/pybugger-relay/internal/logger"
	"github.com/wilfoa/pybugger-relay/internal/manager"
	"github.com/wilfoa/pybugger-relay/internal/persistence"
)

var addrFlag string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay's HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address, overrides host/port from config")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	breakpoints := persistence.NewBreakpointStore(cfg.DataDir)
	sessions := persistence.NewSessionStore(cfg.DataDir, breakpoints)

	mgr := manager.New(manager.Limits{
		MaxSessions:          cfg.MaxSessions,
		SessionTimeout:       cfg.SessionTimeout(),
		SessionMaxLifetime:   cfg.SessionMaxLifetime(),
		OutputBufferMaxBytes: cfg.OutputBufferMaxBytes,
		EventQueueMax:        cfg.EventQueueMax,
	}, sessions, breakpoints)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.StartEviction(ctx, time.Minute)
	defer mgr.StopEviction()

	srv := httpapi.NewFromConfig(mgr, cfg)

	addr := addrFlag
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr, "data_dir", cfg.DataDir, "max_sessions", cfg.MaxSessions)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()

		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Error("session shutdown error", "error", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
