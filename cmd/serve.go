package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/codec"
	"reelsmith/internal/config"
	"reelsmith/internal/job"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if status := codec.CheckBinary("ffmpeg", cfg.FFmpegPath); !status.Available {
		log.Warn().Str("detail", status.Detail).Msg("ffmpeg unavailable; assembly jobs will fail")
	}

	baseCtx, baseCancel := context.WithCancel(parent)
	defer baseCancel()

	comps, err := buildComponents(baseCtx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = comps.ledger.Close() }()

	gate := job.NewGate(cfg.MaxConcurrentJobs)
	gate.SetBaseContext(baseCtx)

	router := setupRouter()
	api.NewAPI(api.Options{
		Assembler:      comps.assembler,
		Publisher:      comps.publisher,
		Workspaces:     comps.workspaces,
		Ledger:         comps.ledger,
		Gate:           gate,
		PublicBaseURL:  cfg.PublicBaseURL,
		Retention:      cfg.Retention,
		MetricsEnabled: cfg.MetricsEnabled,
	}).RegisterRoutes(router)

	go comps.workspaces.RunSweeper(baseCtx, cfg.SweepInterval, cfg.Retention)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("data_dir", comps.workspaces.Root()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-waitForShutdownSignal(baseCtx):
	}

	gracefulShutdown(srv, baseCancel, gate, shutdownTimeout)
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case <-quit:
			log.Info().Msg("shutdown signal received")
		case <-ctx.Done():
		}
	}()
	return done
}

// gracefulShutdown stops accepting requests, cancels in-flight jobs and waits
// for them up to timeout.
func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, gate *job.Gate, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !gate.WaitAll(ctx) {
		log.Warn().Msg("jobs did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
