package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kurpod/internal/api"
	"kurpod/internal/config"
	"kurpod/internal/log"
	"kurpod/internal/registry"
	"kurpod/internal/session"
)

// runServe loads configuration, opens the registry against the
// configured blob location, and serves the HTTP API until it receives
// SIGINT/SIGTERM: ListenAndServe runs in its own goroutine while the
// main goroutine blocks on a signal channel, then calls Shutdown with
// a bounded grace period.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return &configError{err}
	}

	log.SetLogger(log.NewZerologLogger(os.Stderr, cfg.LogLevel))

	regCfg := registryConfig(cfg)

	sessions, err := session.NewManager(cfg.SessionIdleTimeout, cfg.SessionAbsoluteTimeout)
	if err != nil {
		return &configError{err}
	}
	defer sessions.Close()

	reg := registry.New(regCfg, sessions)
	defer reg.Close()

	if _, err := reg.ListBlobs(); err != nil {
		return &startupIOError{err}
	}
	if regCfg.Mode == registry.SingleFileMode {
		if _, err := os.Stat(regCfg.SingleFilePath); err != nil {
			return &startupIOError{err}
		}
	}

	router := api.NewRouter(reg, api.Options{AllowedOrigins: cfg.AllowedOrigins, ReleaseMode: true})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", log.Int("port", cfg.Port), log.String("mode", reg.ModeName()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return &startupIOError{err}
	case <-quit:
	}

	log.Info("shutting down", log.String("reason", "signal received"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// registryConfig derives a registry.Config from the resolved server
// config, picking single-file mode's blob_name from the configured
// file's basename with the .kurpod extension stripped.
func registryConfig(cfg config.Config) registry.Config {
	if cfg.BlobFile != "" {
		name := strings.TrimSuffix(filepath.Base(cfg.BlobFile), registry.BlobExtension)
		return registry.Config{
			Mode:           registry.SingleFileMode,
			SingleFilePath: cfg.BlobFile,
			SingleFileName: name,
		}
	}
	return registry.Config{Mode: registry.DirectoryMode, Dir: cfg.BlobDir}
}
